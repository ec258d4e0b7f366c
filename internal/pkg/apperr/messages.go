package apperr

import "strings"

var messages = map[string]map[Kind]string{
	"fr": {
		KindNotFound:          "Élément introuvable.",
		KindInvalidTransition: "Cette opération n'est plus possible dans l'état actuel.",
		KindAlreadyReviewed:   "Ce paiement a déjà été traité par un administrateur.",
		KindPaymentProvider:   "Le service de paiement est indisponible. Veuillez réessayer.",
		KindValidation:        "Les données envoyées sont invalides.",
		KindStorage:           "Erreur temporaire d'enregistrement. Veuillez réessayer.",
	},
	"en": {
		KindNotFound:          "Not found.",
		KindInvalidTransition: "This operation is no longer possible in the current state.",
		KindAlreadyReviewed:   "This payment has already been reviewed by an administrator.",
		KindPaymentProvider:   "The payment service is unavailable. Please try again.",
		KindValidation:        "The submitted data is invalid.",
		KindStorage:           "Temporary storage error. Please try again.",
	},
}

const defaultLang = "fr"

// Message returns the localized user-facing message for err. Upstream details are never
// included. lang accepts values like "en" or "en-US,en;q=0.9".
func Message(err error, lang string) string {
	table, ok := messages[normalizeLang(lang)]
	if !ok {
		table = messages[defaultLang]
	}
	if msg, ok := table[KindOf(err)]; ok {
		return msg
	}
	if normalizeLang(lang) == "en" {
		return "Internal error."
	}
	return "Erreur interne."
}

func normalizeLang(lang string) string {
	l := strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(l, ",;-_"); i >= 0 {
		l = l[:i]
	}
	return l
}
