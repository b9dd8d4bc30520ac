package notify

import (
	"encoding/json"
	"errors"
	"log"
	"net"
	"sync"
)

const (
	RegisterMessageType       = "register"
	ProfileChangedMessageType = "profile_changed"
)

// RegisterMessage is sent by a reading device over UDP to subscribe to
// profile-change pings for its user.
type RegisterMessage struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

// ProfileChangedMessage tells a device that some profile of its user
// changed and the active profile should be re-resolved.
type ProfileChangedMessage struct {
	Type      string `json:"type"`
	ProfileID string `json:"profile_id,omitempty"`
	SeriesID  string `json:"series_id,omitempty"`
}

type Client struct {
	UserID   string
	DeviceID string
	Addr     *net.UDPAddr
}

// Registry tracks registered devices keyed by (user, device).
type Registry struct {
	mu      sync.RWMutex
	clients map[string]map[string]Client // userID -> deviceID -> client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]map[string]Client)}
}

func (r *Registry) Register(userID, deviceID string, addr *net.UDPAddr) {
	if userID == "" || deviceID == "" || addr == nil {
		return
	}
	r.mu.Lock()
	devices, ok := r.clients[userID]
	if !ok {
		devices = make(map[string]Client)
		r.clients[userID] = devices
	}
	devices[deviceID] = Client{UserID: userID, DeviceID: deviceID, Addr: addr}
	r.mu.Unlock()
}

func (r *Registry) Remove(userID, deviceID string) {
	r.mu.Lock()
	if devices, ok := r.clients[userID]; ok {
		delete(devices, deviceID)
		if len(devices) == 0 {
			delete(r.clients, userID)
		}
	}
	r.mu.Unlock()
}

// DevicesOf snapshots the registered devices of one user.
func (r *Registry) DevicesOf(userID string) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	devices := r.clients[userID]
	out := make([]Client, 0, len(devices))
	for _, c := range devices {
		out = append(out, c)
	}
	return out
}

type Server struct {
	addr     string
	registry *Registry
	logger   *log.Logger

	mu   sync.Mutex
	conn *net.UDPConn
}

func NewServer(addr string, registry *Registry, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{addr: addr, registry: registry, logger: logger}
}

func (s *Server) Run() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer conn.Close()

	s.logger.Printf("[notify] UDP server listening on %s", s.addr)

	buffer := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		msg, err := parseRegisterMessage(buffer[:n])
		if err != nil {
			s.logger.Printf("[notify] invalid UDP message from %s: %v", addr, err)
			continue
		}
		if msg.Type != RegisterMessageType {
			continue
		}
		s.registry.Register(msg.UserID, msg.DeviceID, addr)
		s.logger.Printf("[notify] registered device %s for user %s (%s)", msg.DeviceID, msg.UserID, addr)
	}
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// NotifyProfileChanged pings every registered device of the user except the
// one that caused the change.
func (s *Server) NotifyProfileChanged(userID, originDeviceID, profileID, seriesID string) {
	s.mu.Lock()
	ready := s.conn != nil
	s.mu.Unlock()
	if !ready {
		return
	}
	payload, err := json.Marshal(ProfileChangedMessage{
		Type:      ProfileChangedMessageType,
		ProfileID: profileID,
		SeriesID:  seriesID,
	})
	if err != nil {
		s.logger.Printf("[notify] marshal failed: %v", err)
		return
	}

	for _, client := range s.registry.DevicesOf(userID) {
		if client.DeviceID == originDeviceID {
			continue
		}
		s.sendWithRetry(client, payload)
	}
}

func (s *Server) sendWithRetry(client Client, payload []byte) {
	if err := s.sendOnce(client, payload); err == nil {
		return
	}
	if err := s.sendOnce(client, payload); err != nil {
		s.logger.Printf("[notify] failed to reach device %s of user %s: %v", client.DeviceID, client.UserID, err)
		s.registry.Remove(client.UserID, client.DeviceID)
	}
}

func (s *Server) sendOnce(client Client, payload []byte) error {
	if client.Addr == nil {
		return errors.New("missing client address")
	}
	_, err := s.conn.WriteToUDP(payload, client.Addr)
	return err
}

func parseRegisterMessage(data []byte) (RegisterMessage, error) {
	var msg RegisterMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, err
	}
	if msg.UserID == "" || msg.DeviceID == "" || msg.Type == "" {
		return msg, errors.New("missing required fields")
	}
	return msg, nil
}
