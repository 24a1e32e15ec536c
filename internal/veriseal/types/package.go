package types

type CreatePackageRequest struct {
	SenderID      string `json:"sender_id"`
	DeviceID      string `json:"device_id"`
	OrderID       string `json:"order_id,omitempty"`
	PackageType   string `json:"package_type,omitempty"`
	ReceiverPhone string `json:"receiver_phone,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

// CreatePackageResponse is the only response that ever carries the
// plaintext verification code.
type CreatePackageResponse struct {
	OK               bool   `json:"ok"`
	PackageID        string `json:"package_id"`
	Token            string `json:"token"`
	VerificationCode string `json:"verification_code"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

type VerifyRequest struct {
	Token string `json:"token"`
	Code  string `json:"verification_code"`
}

type ReturnCompletedRequest struct {
	Actor string `json:"actor,omitempty"`
}

type ReturnCompletedResponse struct {
	OK        bool   `json:"ok"`
	PackageID string `json:"package_id"`
	Status    string `json:"status"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
