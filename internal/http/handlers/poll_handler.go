// README: Polling handlers: order snapshot plus per-viewer change detection.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"trackd/internal/http/middleware"
	"trackd/internal/modules/order"
	"trackd/internal/modules/polldiff"
	"trackd/internal/realtime"
)

type PollHandler struct {
	orders   *order.Service
	sessions *polldiff.Sessions
}

func NewPollHandler(orders *order.Service, sessions *polldiff.Sessions) *PollHandler {
	return &PollHandler{orders: orders, sessions: sessions}
}

type pollResponse struct {
	Orders  []polldiff.Snapshot `json:"orders"`
	Changes []polldiff.Change   `json:"changes"`
	Pending int                 `json:"pending"`
}

// PollSessionHeader lets a client tell its tabs or devices apart; the
// "session" query parameter does the same.
const PollSessionHeader = "X-Poll-Session"

// viewerKey keeps a restaurant session apart from the same subject's
// customer session, and one client session apart from another.
func viewerKey(who realtime.Identity, session string) string {
	key := string(who.Role) + ":" + string(who.ScopeID())
	if session != "" {
		key += ":" + session
	}
	return key
}

// pollSession reads the optional client session key. ok is false when a key
// was sent but is malformed.
func pollSession(c *gin.Context) (string, bool) {
	session := c.Query("session")
	if session == "" {
		session = c.GetHeader(PollSessionHeader)
	}
	if session == "" {
		return "", true
	}
	return session, isValidID(session)
}

func (h *PollHandler) Poll(c *gin.Context) {
	who := middleware.Caller(c)
	session, ok := pollSession(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid session")
		return
	}
	orders, err := h.orders.ListForViewer(c.Request.Context(), viewerFor(who))
	if err != nil {
		writeDomainError(c, err)
		return
	}
	snap := polldiff.FromOrders(orders)
	changes := h.sessions.DetectChanges(viewerKey(who, session), snap)
	if changes == nil {
		changes = []polldiff.Change{}
	}
	writeJSON(c, http.StatusOK, pollResponse{
		Orders:  snap,
		Changes: changes,
		Pending: len(polldiff.Pending(snap)),
	})
}

func (h *PollHandler) Forget(c *gin.Context) {
	session, ok := pollSession(c)
	if !ok {
		writeError(c, http.StatusBadRequest, "invalid session")
		return
	}
	h.sessions.Forget(viewerKey(middleware.Caller(c), session))
	c.Status(http.StatusNoContent)
}
