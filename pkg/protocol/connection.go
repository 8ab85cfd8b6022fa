package protocol

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"os"
)

// ConnectionInfo is the content of the kernel connection file: the ports,
// transport and signing key one kernel incarnation is reachable on.
type ConnectionInfo struct {
	Key             string `json:"key"`
	IP              string `json:"ip"`
	Transport       string `json:"transport"`
	SignatureScheme string `json:"signature_scheme"`
	KernelName      string `json:"kernel_name,omitempty"`

	ShellPort     int `json:"shell_port"`
	IOPubPort     int `json:"iopub_port"`
	StdinPort     int `json:"stdin_port"`
	ControlPort   int `json:"control_port"`
	HeartbeatPort int `json:"hb_port"`
}

// NewConnectionInfo allocates five free loopback ports and a fresh signing
// key. The ports are released before returning; the window until the kernel
// binds them is unavoidable and mirrors what Jupyter clients do.
func NewConnectionInfo(ip string) (*ConnectionInfo, error) {
	if ip == "" {
		ip = "127.0.0.1"
	}

	ports, err := freePorts(ip, 5)
	if err != nil {
		return nil, err
	}

	keyBytes := make([]byte, 16)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("generating connection key: %w", err)
	}

	return &ConnectionInfo{
		Key:             hex.EncodeToString(keyBytes),
		IP:              ip,
		Transport:       "tcp",
		SignatureScheme: "hmac-sha256",
		ShellPort:       ports[0],
		IOPubPort:       ports[1],
		StdinPort:       ports[2],
		ControlPort:     ports[3],
		HeartbeatPort:   ports[4],
	}, nil
}

// ReadConnectionFile reads and parses the connection file at path.
func ReadConnectionFile(path string) (*ConnectionInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connection file: %w", err)
	}
	var info ConnectionInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("unmarshalling connection file: %w", err)
	}
	return &info, nil
}

// WriteFile serializes the connection info to path, readable only by the
// current user (the key is a shared secret).
func (c *ConnectionInfo) WriteFile(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling connection info: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing connection file: %w", err)
	}
	return nil
}

// Addr formats a 0MQ endpoint for one of the ports.
func (c *ConnectionInfo) Addr(port int) string {
	return fmt.Sprintf("%s://%s:%d", c.Transport, c.IP, port)
}

func freePorts(ip string, n int) ([]int, error) {
	listeners := make([]net.Listener, 0, n)
	defer func() {
		for _, l := range listeners {
			_ = l.Close()
		}
	}()

	ports := make([]int, 0, n)
	for i := 0; i < n; i++ {
		l, err := net.Listen("tcp", net.JoinHostPort(ip, "0"))
		if err != nil {
			return nil, fmt.Errorf("allocating port: %w", err)
		}
		listeners = append(listeners, l)
		ports = append(ports, l.Addr().(*net.TCPAddr).Port)
	}
	return ports, nil
}
