package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisprnet/fleet/internal/api/request"
	"github.com/wisprnet/fleet/internal/api/response"
	"github.com/wisprnet/fleet/internal/core"
	"github.com/wisprnet/fleet/internal/fleet"
	"github.com/wisprnet/fleet/internal/model"
)

type Router struct {
	svc       *core.RouterService
	sync      *fleet.Orchestrator
	newClient ClientFactory
}

func NewRouter(svc *core.RouterService, sync *fleet.Orchestrator, newClient ClientFactory) *Router {
	return &Router{svc: svc, sync: sync, newClient: newClient}
}

func (h *Router) List(w http.ResponseWriter, r *http.Request) {
	tenantID, err := strconv.ParseInt(r.URL.Query().Get("tenant_id"), 10, 64)
	if err != nil || tenantID <= 0 {
		response.WriteError(w, http.StatusBadRequest, "missing or invalid tenant_id")
		return
	}

	routers, err := h.svc.ListByTenant(r.Context(), tenantID)
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, routers)
}

func (h *Router) Create(w http.ResponseWriter, r *http.Request) {
	var req request.CreateRouter
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	router := &model.Router{
		TenantID:      req.TenantID,
		Name:          req.Name,
		IPAddress:     req.IPAddress,
		Username:      req.Username,
		Password:      req.Password,
		APIUsername:   req.APIUsername,
		APIPassword:   req.APIPassword,
		APIPort:       req.APIPort,
		APITLS:        req.APITLS,
		WGPublicKey:   req.WGPublicKey,
		WinboxEnabled: req.WinboxEnabled,
	}

	if err := h.svc.Create(r.Context(), router); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, router)
}

func (h *Router) Get(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	router, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, router)
}

func (h *Router) Update(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req request.UpdateRouter
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	router, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	if req.Name != nil {
		router.Name = *req.Name
	}
	if req.IPAddress != nil {
		router.IPAddress = req.IPAddress
	}
	if req.Username != nil {
		router.Username = *req.Username
	}
	if req.Password != nil {
		router.Password = *req.Password
	}
	if req.APIUsername != nil {
		router.APIUsername = req.APIUsername
	}
	if req.APIPassword != nil {
		router.APIPassword = req.APIPassword
	}
	if req.APIPort != nil {
		router.APIPort = *req.APIPort
	}
	if req.APITLS != nil {
		router.APITLS = *req.APITLS
	}
	if req.WGPublicKey != nil {
		router.WGPublicKey = req.WGPublicKey
	}
	if req.WGAllowedIPs != nil {
		router.WGAllowedIPs = *req.WGAllowedIPs
	}
	if req.WinboxEnabled != nil {
		router.WinboxEnabled = *req.WinboxEnabled
	}

	if err := h.svc.Update(r.Context(), router); err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, router)
}

func (h *Router) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status returns the live device view: reachability, resources and active
// sessions read from the router itself, alongside the stored record.
func (h *Router) Status(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if !client.IsOnline(r.Context()) {
		response.WriteJSON(w, http.StatusOK, map[string]any{
			"router": router,
			"online": false,
		})
		return
	}

	resource, err := client.SystemResource(r.Context())
	if err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}
	hotspot, _ := client.ActiveHotspotSessions(r.Context())
	pppoe, _ := client.ActivePPPoESessions(r.Context())
	interfaces, _ := client.Interfaces(r.Context())
	addresses, _ := client.IPAddresses(r.Context())
	wgPeers, _ := client.WireGuardPeers(r.Context())

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"router":           router,
		"online":           true,
		"resource":         resource,
		"hotspot_sessions": hotspot,
		"pppoe_sessions":   pppoe,
		"interfaces":       interfaces,
		"ip_addresses":     addresses,
		"wireguard_peers":  wgPeers,
	})
}

// Clients returns the devices currently attached to the router's LAN side:
// DHCP leases cross-checked against the ARP table for liveness.
func (h *Router) Clients(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	leases, err := client.DHCPLeases(r.Context())
	if err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}
	arp, _ := client.ARPTable(r.Context())

	reachable := make(map[string]bool, len(arp))
	for _, e := range arp {
		if e.Complete {
			reachable[e.MACAddress] = true
		}
	}

	type lanClient struct {
		Address    string `json:"address"`
		MACAddress string `json:"mac_address"`
		HostName   string `json:"host_name,omitempty"`
		Status     string `json:"status"`
		Reachable  bool   `json:"reachable"`
	}
	clients := make([]lanClient, 0, len(leases))
	for _, l := range leases {
		clients = append(clients, lanClient{
			Address:    l.Address,
			MACAddress: l.MACAddress,
			HostName:   l.HostName,
			Status:     l.Status,
			Reachable:  reachable[l.MACAddress],
		})
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{"clients": clients})
}

func (h *Router) Ping(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	response.WriteJSON(w, http.StatusOK, client.Ping(r.Context()))
}

func (h *Router) Reboot(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if err := client.Reboot(r.Context()); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "rebooting"})
}

func (h *Router) Disconnect(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	var req request.DisconnectUser
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if err := client.DisconnectUser(r.Context(), req.ServiceType, req.Username); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Winbox opens the device's Winbox service so the hub's port forward works.
func (h *Router) Winbox(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if err := client.EnableWinboxAccess(r.Context()); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, map[string]any{
		"winbox_port": router.WinboxPort,
	})
}

func (h *Router) SyncProfiles(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.sync.SyncProfiles(r.Context(), id); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Router) Logs(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	client := h.newClient(router)
	defer client.Close()

	lines, err := client.Logs(r.Context(), request.QueryInt(r, "limit", 100))
	if err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, lines)
}

func (h *Router) CreateVoucher(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	var req request.CreateVoucher
	if err := request.Decode(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if err := client.CreateHotspotUser(r.Context(), req.Username, req.Password, req.Profile); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	response.WriteJSON(w, http.StatusCreated, map[string]string{
		"username": req.Username,
		"profile":  req.Profile,
	})
}

func (h *Router) DeleteVoucher(w http.ResponseWriter, r *http.Request) {
	router, ok := h.load(w, r)
	if !ok {
		return
	}

	username := chi.URLParam(r, "username")
	if username == "" {
		response.WriteError(w, http.StatusBadRequest, "missing voucher username")
		return
	}

	client := h.newClient(router)
	defer client.Close()

	if err := client.RemoveHotspotUser(r.Context(), username); err != nil {
		response.WriteError(w, statusForError(err), err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Router) load(w http.ResponseWriter, r *http.Request) (*model.Router, bool) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	router, err := h.svc.GetByID(r.Context(), id)
	if err != nil {
		response.WriteError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return router, true
}
