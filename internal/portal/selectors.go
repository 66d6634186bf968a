package portal

import (
	"tollsync/internal/browser"
)

// Chain is an ordered list of alternative selectors for one UI step.
// Each selector is tried in sequence; a timeout moves on to the next,
// any other failure aborts. The portal's markup is not contractually
// stable, so every mandatory step carries a primary css selector, a
// secondary css selector, and a text-content xpath as last resort.
type Chain struct {
	Step      string
	Selectors []browser.Selector
}

// The concrete workflow selectors. These are specific to the billing
// portal and allowed to be brittle; the fallback chain plus diagnostic
// screenshot is the degradation strategy.
var (
	loginUserChain = Chain{
		Step: "login.identifier",
		Selectors: []browser.Selector{
			browser.ID("username"),
			browser.CSS(`input[name="username"]`),
			browser.XPath(`//input[@type='text' or @type='email']`),
		},
	}
	loginSecretChain = Chain{
		Step: "login.secret",
		Selectors: []browser.Selector{
			browser.ID("password"),
			browser.CSS(`input[name="password"]`),
			browser.XPath(`//input[@type='password']`),
		},
	}
	loginSubmitChain = Chain{
		Step: "login.submit",
		Selectors: []browser.Selector{
			browser.CSS(`button[type="submit"]`),
			browser.CSS(`#login-form button`),
			browser.XPath(`//button[contains(., 'Entrar') or contains(., 'Login')]`),
		},
	}
	dismissDialogChain = Chain{
		Step: "dialog.dismiss",
		Selectors: []browser.Selector{
			browser.CSS(`.modal-footer button.btn-primary`),
			browser.CSS(`.swal2-confirm`),
			browser.XPath(`//button[contains(., 'OK') or contains(., 'Fechar')]`),
		},
	}
	reportsMenuChain = Chain{
		Step: "reports.open",
		Selectors: []browser.Selector{
			browser.CSS(`a[href*="extrato"]`),
			browser.CSS(`#menu-reports`),
			browser.XPath(`//a[contains(., 'Extrato') or contains(., 'Relat')]`),
		},
	}
	dateFromChain = Chain{
		Step: "filter.date_from",
		Selectors: []browser.Selector{
			browser.ID("dataInicio"),
			browser.CSS(`input[name="dataInicio"]`),
			browser.XPath(`//input[contains(@placeholder, 'nicio')]`),
		},
	}
	dateToChain = Chain{
		Step: "filter.date_to",
		Selectors: []browser.Selector{
			browser.ID("dataFim"),
			browser.CSS(`input[name="dataFim"]`),
			browser.XPath(`//input[contains(@placeholder, 'Fim') or contains(@placeholder, 'fim')]`),
		},
	}
	filterApplyChain = Chain{
		Step: "filter.apply",
		Selectors: []browser.Selector{
			browser.CSS(`button#filtrar`),
			browser.CSS(`form button[type="submit"]`),
			browser.XPath(`//button[contains(., 'Filtrar') or contains(., 'Buscar')]`),
		},
	}
	exportChain = Chain{
		Step: "export.trigger",
		Selectors: []browser.Selector{
			browser.CSS(`button#exportar`),
			browser.CSS(`a[href*="export"]`),
			browser.XPath(`//button[contains(., 'Exportar')] | //a[contains(., 'Exportar')]`),
		},
	}
)
