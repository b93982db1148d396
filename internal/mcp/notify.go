package mcp

import (
	"github.com/routegate/routegate/internal/common"
)

// Notification methods pushed to connected clients on route-table changes.
// Payloads carry the full current list, not a diff, so clients can replace
// their local view atomically.
const (
	MethodToolsChanged     = "notifications/toolsChanged"
	MethodResourcesChanged = "notifications/resourcesChanged"
	MethodPromptsChanged   = "notifications/promptsChanged"
)

// NotificationManager fans notifications out to every connected transport
// client. It holds no routing state, only a reference to the live client set
// owned by the server.
type NotificationManager struct {
	clients *clientSet
	logger  *common.Logger
}

// NewNotificationManager creates a broadcaster over the given client set.
func NewNotificationManager(clients *clientSet, logger *common.Logger) *NotificationManager {
	return &NotificationManager{clients: clients, logger: logger}
}

// Broadcast delivers one notification to every connected client. A write
// failure on one client never blocks delivery to the others; failing
// clients are closed and removed from the set.
func (n *NotificationManager) Broadcast(method string, params any) {
	msg := NewNotification(method, params).Marshal()
	if msg == nil {
		n.logger.Error().Str("method", method).Msg("failed to encode notification")
		return
	}

	clients := n.clients.snapshot()
	delivered := 0
	for _, client := range clients {
		if err := client.Send(msg); err != nil {
			n.logger.Warn().
				Str("client_id", client.ID()).
				Str("method", method).
				Str("error", err.Error()).
				Msg("notification write failed, removing client")
			n.clients.remove(client.ID())
			client.Close()
			continue
		}
		delivered++
	}

	n.logger.Debug().
		Str("method", method).
		Int("clients", len(clients)).
		Int("delivered", delivered).
		Msg("notification broadcast")
}

// ToolsChanged broadcasts the full current tool list.
func (n *NotificationManager) ToolsChanged(tools []ToolDescriptor) {
	n.Broadcast(MethodToolsChanged, map[string]any{"tools": tools})
}

// ResourcesChanged broadcasts the full current resource list.
func (n *NotificationManager) ResourcesChanged(resources []Resource) {
	n.Broadcast(MethodResourcesChanged, map[string]any{"resources": resources})
}

// PromptsChanged broadcasts the full current prompt list.
func (n *NotificationManager) PromptsChanged(prompts []Prompt) {
	n.Broadcast(MethodPromptsChanged, map[string]any{"prompts": prompts})
}
