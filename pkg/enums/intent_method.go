package enums

import "slices"

// IntentMethod is how the customer is expected to pay.
type IntentMethod string

const (
	IntentMethodCard IntentMethod = "CARD"
	IntentMethodQR   IntentMethod = "QR"
)

var intentMethods = []IntentMethod{IntentMethodCard, IntentMethodQR}

func (m IntentMethod) String() string { return string(m) }

func (m IntentMethod) IsValid() bool { return slices.Contains(intentMethods, m) }

func ParseIntentMethod(value string) (IntentMethod, error) {
	return lookup("intent method", intentMethods, value)
}
