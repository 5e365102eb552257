package catalog

// OrderItem is one line of an order.
type OrderItem struct {
	ID       string  `json:"id" validate:"required"`
	Quantity int     `json:"quantity" validate:"gt=0"`
	Price    float64 `json:"price" validate:"gt=0"`
}

// OrderInput starts the process_order workflow.
type OrderInput struct {
	OrderID       string      `json:"order_id" validate:"required"`
	CustomerEmail string      `json:"customer_email" validate:"required,email"`
	Items         []OrderItem `json:"items" validate:"required,min=1,dive"`
	TotalAmount   float64     `json:"total_amount" validate:"gt=0"`
}

type PaymentInput struct {
	Amount        float64 `json:"amount" validate:"gt=0"`
	PaymentMethod string  `json:"payment_method"`
}

type PaymentResult struct {
	PaymentID string  `json:"payment_id"`
	Amount    float64 `json:"amount"`
	Status    string  `json:"status"`
}

type InventoryInput struct {
	ItemID   string `json:"item_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"gt=0"`
}

type InventoryResult struct {
	ReservationID string `json:"reservation_id"`
	ItemID        string `json:"item_id"`
	Quantity      int    `json:"quantity"`
	Status        string `json:"status"`
}

type NotificationInput struct {
	Recipient string `json:"recipient" validate:"required"`
	Message   string `json:"message"`
	Type      string `json:"type"`
}

type NotificationResult struct {
	NotificationID string `json:"notification_id"`
	Recipient      string `json:"recipient"`
	Status         string `json:"status"`
}

type UserInput struct {
	Email    string `json:"email" validate:"required,email"`
	Username string `json:"username" validate:"min=3"`
	Password string `json:"password" validate:"min=6"`
}

type UserResult struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Status string `json:"status"`
}

type OrderStatusInput struct {
	OrderID string `json:"order_id" validate:"required"`
}

type OrderStatusResult struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	TrackingNumber string `json:"tracking_number,omitempty"`
}

type RefundInput struct {
	OrderID string  `json:"order_id" validate:"required"`
	Amount  float64 `json:"amount" validate:"gt=0"`
	Reason  string  `json:"reason"`
}

type RefundResult struct {
	RefundID string  `json:"refund_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status"`
}
