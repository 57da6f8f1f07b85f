package models

// RecommendationCandidate is a scored catalog product for a cart.
type RecommendationCandidate struct {
	Product Product `json:"product"`
	Score   float64 `json:"score"`
	// Source is the name of the cart item the product was matched against.
	Source  string  `json:"source"`
}

// Message is the generated content of a recovery email. Generated is false
// when the body came from the fallback template.
type Message struct {
	Subject         string                    `json:"subject"`
	HTMLBody        string                    `json:"html_body"`
	TextBody        string                    `json:"text_body"`
	Discount        float64                   `json:"discount"`
	Generated       bool                      `json:"generated"`
	Recommendations []RecommendationCandidate `json:"recommendations"`
}

// Email is what gets handed to a mail sender.
type Email struct {
	To       string
	ToName   string
	Subject  string
	HTMLBody string
	TextBody string
}

// OrderEvent is the subset of order service events used for conversion tracking.
type OrderEvent struct {
	EventType string `json:"event_type"`
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id,omitempty"`
}

const (
	EventOrderCreated   = "order_created"
	EventOrderCompleted = "order_completed"
)
