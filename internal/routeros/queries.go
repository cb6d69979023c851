package routeros

import (
	"context"
	"strconv"

	"github.com/go-routeros/routeros/v3/proto"
)

// SystemResource is the device resource snapshot persisted on each sweep.
type SystemResource struct {
	CPULoad       float64 `json:"cpu_load"`
	MemoryUsedPct float64 `json:"memory_used_pct"`
	Uptime        string  `json:"uptime"`
	Version       string  `json:"version"`
	BoardName     string  `json:"board_name"`
}

func (c *Client) SystemResource(ctx context.Context) (SystemResource, error) {
	var res SystemResource
	reply, err := c.run(ctx, "/system/resource/print")
	if err != nil {
		return res, err
	}
	if len(reply.Re) == 0 {
		return res, nil
	}
	m := reply.Re[0].Map
	res.CPULoad = parseFloat(m["cpu-load"])
	res.Uptime = m["uptime"]
	res.Version = m["version"]
	res.BoardName = m["board-name"]

	total := parseFloat(m["total-memory"])
	free := parseFloat(m["free-memory"])
	if total > 0 {
		res.MemoryUsedPct = (total - free) / total * 100
	}
	return res, nil
}

// Identity returns the device's configured name.
func (c *Client) Identity(ctx context.Context) (string, error) {
	reply, err := c.run(ctx, "/system/identity/print")
	if err != nil {
		return "", err
	}
	if len(reply.Re) == 0 {
		return "", nil
	}
	return reply.Re[0].Map["name"], nil
}

func (c *Client) SetIdentity(ctx context.Context, name string) error {
	_, err := c.run(ctx, "/system/identity/set", "=name="+name)
	return err
}

// Interface is one device interface with traffic counters.
type Interface struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Running bool   `json:"running"`
	RxBytes int64  `json:"rx_bytes"`
	TxBytes int64  `json:"tx_bytes"`
}

func (c *Client) Interfaces(ctx context.Context) ([]Interface, error) {
	reply, err := c.run(ctx, "/interface/print")
	if err != nil {
		return nil, err
	}
	ifaces := make([]Interface, 0, len(reply.Re))
	for _, re := range reply.Re {
		ifaces = append(ifaces, Interface{
			Name:    re.Map["name"],
			Type:    re.Map["type"],
			Running: re.Map["running"] == "true",
			RxBytes: parseInt(re.Map["rx-byte"]),
			TxBytes: parseInt(re.Map["tx-byte"]),
		})
	}
	return ifaces, nil
}

// IPAddress is one address bound to a device interface.
type IPAddress struct {
	Address   string `json:"address"`
	Network   string `json:"network"`
	Interface string `json:"interface"`
	Dynamic   bool   `json:"dynamic"`
}

func (c *Client) IPAddresses(ctx context.Context) ([]IPAddress, error) {
	reply, err := c.run(ctx, "/ip/address/print")
	if err != nil {
		return nil, err
	}
	addrs := make([]IPAddress, 0, len(reply.Re))
	for _, re := range reply.Re {
		addrs = append(addrs, IPAddress{
			Address:   re.Map["address"],
			Network:   re.Map["network"],
			Interface: re.Map["interface"],
			Dynamic:   re.Map["dynamic"] == "true",
		})
	}
	return addrs, nil
}

// ARPEntry is one neighbor entry.
type ARPEntry struct {
	Address    string `json:"address"`
	MACAddress string `json:"mac_address"`
	Interface  string `json:"interface"`
	Complete   bool   `json:"complete"`
}

func (c *Client) ARPTable(ctx context.Context) ([]ARPEntry, error) {
	reply, err := c.run(ctx, "/ip/arp/print")
	if err != nil {
		return nil, err
	}
	entries := make([]ARPEntry, 0, len(reply.Re))
	for _, re := range reply.Re {
		entries = append(entries, ARPEntry{
			Address:    re.Map["address"],
			MACAddress: re.Map["mac-address"],
			Interface:  re.Map["interface"],
			Complete:   re.Map["complete"] == "true",
		})
	}
	return entries, nil
}

// ActiveSession is one live hotspot or PPPoE attachment as the device sees
// it (as opposed to what accounting has told us).
type ActiveSession struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	Address    string `json:"address"`
	MACAddress string `json:"mac_address"`
	Uptime     string `json:"uptime"`
	BytesIn    int64  `json:"bytes_in"`
	BytesOut   int64  `json:"bytes_out"`
}

func (c *Client) ActiveHotspotSessions(ctx context.Context) ([]ActiveSession, error) {
	reply, err := c.run(ctx, "/ip/hotspot/active/print")
	if err != nil {
		return nil, err
	}
	sessions := make([]ActiveSession, 0, len(reply.Re))
	for _, re := range reply.Re {
		sessions = append(sessions, ActiveSession{
			ID:         re.Map[".id"],
			Username:   re.Map["user"],
			Address:    re.Map["address"],
			MACAddress: re.Map["mac-address"],
			Uptime:     re.Map["uptime"],
			BytesIn:    parseInt(re.Map["bytes-in"]),
			BytesOut:   parseInt(re.Map["bytes-out"]),
		})
	}
	return sessions, nil
}

func (c *Client) ActivePPPoESessions(ctx context.Context) ([]ActiveSession, error) {
	reply, err := c.run(ctx, "/ppp/active/print")
	if err != nil {
		return nil, err
	}
	sessions := make([]ActiveSession, 0, len(reply.Re))
	for _, re := range reply.Re {
		sessions = append(sessions, ActiveSession{
			ID:         re.Map[".id"],
			Username:   re.Map["name"],
			Address:    re.Map["address"],
			MACAddress: re.Map["caller-id"],
			Uptime:     re.Map["uptime"],
		})
	}
	return sessions, nil
}

// DHCPLease is one lease from the device's DHCP server.
type DHCPLease struct {
	Address    string `json:"address"`
	MACAddress string `json:"mac_address"`
	HostName   string `json:"host_name"`
	Status     string `json:"status"`
	Dynamic    bool   `json:"dynamic"`
}

func (c *Client) DHCPLeases(ctx context.Context) ([]DHCPLease, error) {
	reply, err := c.run(ctx, "/ip/dhcp-server/lease/print")
	if err != nil {
		return nil, err
	}
	leases := make([]DHCPLease, 0, len(reply.Re))
	for _, re := range reply.Re {
		leases = append(leases, DHCPLease{
			Address:    re.Map["address"],
			MACAddress: re.Map["mac-address"],
			HostName:   re.Map["host-name"],
			Status:     re.Map["status"],
			Dynamic:    re.Map["dynamic"] == "true",
		})
	}
	return leases, nil
}

// WGPeer is a WireGuard peer as configured on the device itself.
type WGPeer struct {
	Interface     string `json:"interface"`
	PublicKey     string `json:"public_key"`
	AllowedIPs    string `json:"allowed_ips"`
	Endpoint      string `json:"endpoint"`
	LastHandshake string `json:"last_handshake"`
}

func (c *Client) WireGuardPeers(ctx context.Context) ([]WGPeer, error) {
	reply, err := c.run(ctx, "/interface/wireguard/peers/print")
	if err != nil {
		return nil, err
	}
	peers := make([]WGPeer, 0, len(reply.Re))
	for _, re := range reply.Re {
		peers = append(peers, WGPeer{
			Interface:     re.Map["interface"],
			PublicKey:     re.Map["public-key"],
			AllowedIPs:    re.Map["allowed-address"],
			Endpoint:      re.Map["endpoint-address"],
			LastHandshake: re.Map["last-handshake"],
		})
	}
	return peers, nil
}

// LogLine is one device log entry.
type LogLine struct {
	Time    string `json:"time"`
	Topics  string `json:"topics"`
	Message string `json:"message"`
}

// Logs returns up to limit recent log lines, newest first.
func (c *Client) Logs(ctx context.Context, limit int) ([]LogLine, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	reply, err := c.run(ctx, "/log/print")
	if err != nil {
		return nil, err
	}
	// Device order is oldest first; reverse and cap.
	lines := make([]LogLine, 0, limit)
	for i := len(reply.Re) - 1; i >= 0 && len(lines) < limit; i-- {
		m := reply.Re[i].Map
		lines = append(lines, LogLine{
			Time:    m["time"],
			Topics:  m["topics"],
			Message: m["message"],
		})
	}
	return lines, nil
}

func sentenceIDs(re []*proto.Sentence) []string {
	ids := make([]string, 0, len(re))
	for _, s := range re {
		if id := s.Map[".id"]; id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
