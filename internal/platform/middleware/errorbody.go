package middleware

// ErrorBody is the JSON shape of every error response:
// {"code":"SLOT_TAKEN","message":"..."}.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
