package dto

type LoginRequest struct {
	Wallet string `json:"wallet"`
}

type LoginResponse struct {
	Token string `json:"token"`
}
