package dto

type WhitelistRequest struct {
	Type  string `json:"type"`
	Value string `json:"value"`
	Note  string `json:"note"`
}

type WhitelistEntry struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Note    string `json:"note"`
	AddedAt string `json:"added_at"`
}
