package dtos

type BlacklistRequest struct {
	IP string `json:"ip" validate:"required,ip"`
}

type BlacklistResponse struct {
	IP          string `json:"ip"`
	Blacklisted bool   `json:"blacklisted"`
}
