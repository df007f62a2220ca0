package server

// CreateTenantRequest registers a tenant and the app credentials used to read it.
type CreateTenantRequest struct {
	Name         string `json:"name" example:"Contoso"`
	DirectoryID  string `json:"directory_id" example:"7f1c2d9e-0000-4000-8000-000000000001"`
	ClientID     string `json:"client_id" example:"demo-client"`
	ClientSecret string `json:"client_secret" example:"demo-secret"`
	Endpoint     string `json:"endpoint,omitempty" example:"http://127.0.0.1:9090/v1.0"`
}

// StartRunRequest optionally limits a run to some domains. Empty runs all.
type StartRunRequest struct {
	Domains     []string `json:"domains" example:"IdentityAndAccess,PrivilegedAccess"`
	InitiatedBy string   `json:"initiated_by" example:"ops@contoso.example"`
}

// ErrorResponse is a uniform error payload returned by the API.
type ErrorResponse struct {
	Error string `json:"error" example:"run not found"`
}
