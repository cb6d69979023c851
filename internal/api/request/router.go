package request

// CreateRouter is the onboarding payload. Credentials are required; the
// tunnel identity is assigned server-side, never accepted from the caller.
type CreateRouter struct {
	TenantID      int64   `json:"tenant_id" validate:"required,gt=0"`
	Name          string  `json:"name" validate:"required,max=64"`
	IPAddress     *string `json:"ip_address,omitempty" validate:"omitempty,ip4_addr"`
	Username      string  `json:"username" validate:"required"`
	Password      string  `json:"password" validate:"required"`
	APIUsername   *string `json:"api_username,omitempty"`
	APIPassword   *string `json:"api_password,omitempty"`
	APIPort       int     `json:"api_port" validate:"omitempty,gt=0,lte=65535"`
	APITLS        bool    `json:"api_tls"`
	WGPublicKey   *string `json:"wg_public_key,omitempty" validate:"omitempty,base64"`
	WinboxEnabled bool    `json:"winbox_enabled"`
}

// UpdateRouter carries the mutable router fields. Empty/nil fields are left
// unchanged; the tunnel address and forwarding port are immutable.
type UpdateRouter struct {
	Name          *string `json:"name,omitempty" validate:"omitempty,max=64"`
	IPAddress     *string `json:"ip_address,omitempty" validate:"omitempty,ip4_addr"`
	Username      *string `json:"username,omitempty"`
	Password      *string `json:"password,omitempty"`
	APIUsername   *string `json:"api_username,omitempty"`
	APIPassword   *string `json:"api_password,omitempty"`
	APIPort       *int    `json:"api_port,omitempty" validate:"omitempty,gt=0,lte=65535"`
	APITLS        *bool   `json:"api_tls,omitempty"`
	WGPublicKey   *string `json:"wg_public_key,omitempty" validate:"omitempty,base64"`
	WGAllowedIPs  *string `json:"wg_allowed_ips,omitempty"`
	WinboxEnabled *bool   `json:"winbox_enabled,omitempty"`
}

// DisconnectUser targets one subscriber session on the device.
type DisconnectUser struct {
	ServiceType string `json:"service_type" validate:"required,oneof=hotspot pppoe"`
	Username    string `json:"username" validate:"required"`
}

// CreateVoucher provisions a hotspot voucher user on the device.
type CreateVoucher struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required"`
	Profile  string `json:"profile" validate:"required"`
}
