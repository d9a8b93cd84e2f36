package nodes

import (
	"regexp"

	"kardex_assistant/pkg"
)

// Confidence levels assigned by the rule-based classifier
const (
	fallbackConfidence       = 0.7
	fallbackStrongConfidence = 0.8
	fallbackOtherConfidence  = 0.3
	blankConfidence          = 0.1
)

// fallbackRule maps a pattern on normalized text to an intent. build may decline (ok=false)
// so evaluation falls through to the next rule.
type fallbackRule struct {
	category pkg.IntentCategory
	pattern  *regexp.Regexp
	build    func(text string, session pkg.SessionState) (pkg.Intent, bool)

	// the outcome depends on session facts, not only on the text
	usesSession bool
}

// FallbackClassifier is the deterministic classifier used when the model cannot answer.
// Rules are evaluated in order; the first that matches and accepts wins.
type FallbackClassifier struct {
	rules []fallbackRule
}

// NewFallbackClassifier builds the rule set
func NewFallbackClassifier() *FallbackClassifier {
	return &FallbackClassifier{rules: []fallbackRule{
		{
			category: pkg.IntentCatalogBrowse,
			pattern:  regexp.MustCompile(`\b(catalogo|productos|lista|muestrame|mostrar)\b`),
			build: func(string, pkg.SessionState) (pkg.Intent, bool) {
				return pkg.Intent{
					Category:      pkg.IntentCatalogBrowse,
					Confidence:    fallbackConfidence,
					Parameters:    pkg.Params{},
					RequiredQuery: pkg.QueryGetCatalog,
					QueryParams:   pkg.Params{"filters": map[string]any{"active": true, "limit": 20}},
				}, true
			},
		},
		{
			category: pkg.IntentPriceInquiry,
			pattern:  regexp.MustCompile(`\b(cuanto cuesta|precio|vale|a cuanto)\b`),
			build:    productLookup(pkg.IntentPriceInquiry),
		},
		{
			category: pkg.IntentStockInquiry,
			pattern:  regexp.MustCompile(`\b(tienes|hay|disponible|stock)\b`),
			build:    productLookup(pkg.IntentStockInquiry),
		},
		{
			category: pkg.IntentPlaceOrder,
			pattern:  regexp.MustCompile(`\b(quiero|necesito|dame|comprar|pedir|agregar)\b`),
			build: func(string, pkg.SessionState) (pkg.Intent, bool) {
				return pkg.Intent{
					Category:    pkg.IntentPlaceOrder,
					Confidence:  fallbackConfidence,
					Parameters:  pkg.Params{"products": []any{}},
					QueryParams: pkg.Params{},
					Action:      pkg.ActionInitOrder,
				}, true
			},
		},
		{
			category: pkg.IntentViewOrder,
			pattern:  regexp.MustCompile(`\b(mi pedido|pedido actual|estado|ver pedido)\b`),
			build: func(_ string, session pkg.SessionState) (pkg.Intent, bool) {
				qp := pkg.Params{}
				if session.PhoneNumber != "" {
					qp["phoneNumber"] = session.PhoneNumber
				}
				return pkg.Intent{
					Category:      pkg.IntentViewOrder,
					Confidence:    fallbackConfidence,
					Parameters:    pkg.Params{},
					RequiredQuery: pkg.QueryGetOrder,
					QueryParams:   qp,
					Action:        pkg.ActionViewOrder,
				}, true
			},
			usesSession: true,
		},
		{
			category: pkg.IntentConfirmOrder,
			pattern:  regexp.MustCompile(`\b(confirmar|confirmo|si|ok|okey|okay|acepto)\b`),
			build: func(_ string, session pkg.SessionState) (pkg.Intent, bool) {
				if !orderPending(session.State) {
					return pkg.Intent{}, false
				}
				return pkg.Intent{
					Category:    pkg.IntentConfirmOrder,
					Confidence:  fallbackStrongConfidence,
					Parameters:  pkg.Params{},
					QueryParams: pkg.Params{},
					Action:      pkg.ActionConfirmOrder,
				}, true
			},
			usesSession: true,
		},
		{
			category: pkg.IntentCancelOrder,
			pattern:  regexp.MustCompile(`\b(cancelar|salir|no quiero|olvidate|olvidalo)\b`),
			build: func(string, pkg.SessionState) (pkg.Intent, bool) {
				return pkg.Intent{
					Category:    pkg.IntentCancelOrder,
					Confidence:  fallbackConfidence,
					Parameters:  pkg.Params{},
					QueryParams: pkg.Params{},
					Action:      pkg.ActionCancelOrder,
				}, true
			},
		},
		{
			category: pkg.IntentGreeting,
			pattern:  regexp.MustCompile(`\b(hola|hi|buenos dias|buenas tardes|buenas noches|que tal)\b`),
			build:    simpleIntent(pkg.IntentGreeting, fallbackStrongConfidence),
		},
		{
			category: pkg.IntentHelp,
			pattern:  regexp.MustCompile(`\b(ayuda|help|que puedo hacer|comandos)\b`),
			build:    simpleIntent(pkg.IntentHelp, fallbackStrongConfidence),
		},
	}}
}

// Classify returns the first matching rule's intent, or other at 0.3
func (f *FallbackClassifier) Classify(text string, session pkg.SessionState) pkg.Intent {
	intent, _ := f.classify(text, session)
	return intent
}

// classify also reports whether a session-dependent rule was consulted, in which case
// the result must not be cached under a text-only key
func (f *FallbackClassifier) classify(text string, session pkg.SessionState) (pkg.Intent, bool) {
	normalized := normalizeText(text)
	usedSession := false
	for _, rule := range f.rules {
		if !rule.pattern.MatchString(normalized) {
			continue
		}
		usedSession = usedSession || rule.usesSession
		if intent, ok := rule.build(text, session); ok {
			return intent, usedSession
		}
	}
	return pkg.Intent{
		Category:    pkg.IntentOther,
		Confidence:  fallbackOtherConfidence,
		Parameters:  pkg.Params{},
		QueryParams: pkg.Params{},
	}, usedSession
}

func productLookup(category pkg.IntentCategory) func(string, pkg.SessionState) (pkg.Intent, bool) {
	return func(text string, _ pkg.SessionState) (pkg.Intent, bool) {
		intent := pkg.Intent{
			Category:    category,
			Confidence:  fallbackConfidence,
			Parameters:  pkg.Params{},
			QueryParams: pkg.Params{},
		}
		if product := extractProductName(text); product != "" {
			intent.Parameters["product"] = product
			intent.RequiredQuery = pkg.QueryProductSearch
			intent.QueryParams = pkg.Params{"term": product, "limit": 3}
		}
		return intent, true
	}
}

func simpleIntent(category pkg.IntentCategory, confidence float64) func(string, pkg.SessionState) (pkg.Intent, bool) {
	return func(string, pkg.SessionState) (pkg.Intent, bool) {
		return pkg.Intent{
			Category:    category,
			Confidence:  confidence,
			Parameters:  pkg.Params{},
			QueryParams: pkg.Params{},
		}, true
	}
}

// legacyInProgressState is how older sessions mark an order being assembled
const legacyInProgressState = "pedido_en_proceso"

func orderPending(state string) bool {
	switch state {
	case pkg.StateAwaitingConfirmation, pkg.StateInProgress, legacyInProgressState:
		return true
	default:
		return false
	}
}

// blankIntent is returned for empty input without consulting anything
func blankIntent() pkg.Intent {
	return pkg.Intent{
		Category:    pkg.IntentOther,
		Confidence:  blankConfidence,
		Parameters:  pkg.Params{},
		QueryParams: pkg.Params{},
	}
}
