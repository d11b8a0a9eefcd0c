package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/relaynet/channel-bridge/domain/connector"
	"github.com/relaynet/channel-bridge/domain/path"
	"github.com/relaynet/channel-bridge/entities"
	"go.uber.org/zap"
)

const maxPathHops = 64

type ConnectorStatus interface {
	Status() connector.Status
}

type ChannelGraph interface {
	Height() uint64
	UnconfirmedCount() int
	GetLatestConfirmedBlockNumber(ctx context.Context) (uint64, error)
	Get(ctx context.Context, query *entities.ChannelQuery) ([]entities.ChannelInfo, error)
}

type PathFinder interface {
	FindPath(ctx context.Context, start entities.AccountId, targetLength int, filter path.Filter) ([]entities.AccountId, error)
}

type TicketLister interface {
	Tickets(channelID entities.Hash) ([]entities.SignedTicket, error)
}

type Handler struct {
	connector ConnectorStatus
	graph     ChannelGraph
	paths     PathFinder
	tickets   TicketLister
	logger    *zap.SugaredLogger
}

type HealthResponse struct {
	Status string `json:"status"`
}

type StatusResponse struct {
	Connector         string `json:"connector"`
	ChainHead         uint64 `json:"chainHead"`
	ConfirmedBlock    uint64 `json:"confirmedBlock"`
	UnconfirmedEvents int    `json:"unconfirmedEvents"`
}

type Channel struct {
	ChannelID        string `json:"channelId"`
	PartyA           string `json:"partyA"`
	PartyB           string `json:"partyB"`
	BlockNumber      uint64 `json:"blockNumber"`
	TransactionIndex uint64 `json:"transactionIndex"`
	LogIndex         uint64 `json:"logIndex"`
}

type ChannelsResponse struct {
	Channels []Channel `json:"channels"`
}

type PathResponse struct {
	Path []string `json:"path"`
}

type Ticket struct {
	Challenge     string `json:"challenge"`
	Epoch         string `json:"epoch"`
	Amount        string `json:"amount"`
	WinProb       string `json:"winProb"`
	OnChainSecret string `json:"onChainSecret"`
	Signature     string `json:"signature"`
}

type TicketsResponse struct {
	Tickets []Ticket `json:"tickets"`
}

func NewHandler(connector ConnectorStatus, graph ChannelGraph, paths PathFinder, tickets TicketLister, logger *zap.SugaredLogger) *Handler {
	return &Handler{connector: connector, graph: graph, paths: paths, tickets: tickets, logger: logger}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.GetHealth)
	mux.HandleFunc("GET /v1/status", h.GetStatus)
	mux.HandleFunc("GET /v1/channels", h.GetChannels)
	mux.HandleFunc("GET /v1/channels/{id}/tickets", h.GetTickets)
	mux.HandleFunc("GET /v1/path", h.GetPath)
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	status := "UP"
	code := http.StatusOK
	if h.connector.Status() != connector.StatusStarted {
		status = "DOWN"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, HealthResponse{Status: status})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	confirmed, err := h.graph.GetLatestConfirmedBlockNumber(r.Context())
	if err != nil {
		h.logger.Errorw("Error getting confirmed block", "error", err)
		http.Error(w, "Error getting confirmed block", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, StatusResponse{
		Connector:         h.connector.Status().String(),
		ChainHead:         h.graph.Height(),
		ConfirmedBlock:    confirmed,
		UnconfirmedEvents: h.graph.UnconfirmedCount(),
	})
}

func (h *Handler) GetChannels(w http.ResponseWriter, r *http.Request) {
	var query entities.ChannelQuery
	for param, target := range map[string]**entities.AccountId{"partyA": &query.PartyA, "partyB": &query.PartyB} {
		value := r.URL.Query().Get(param)
		if value == "" {
			continue
		}
		account, err := entities.AccountIdFromHex(value)
		if err != nil {
			http.Error(w, "Invalid "+param, http.StatusBadRequest)
			return
		}
		*target = &account
	}

	channels, err := h.graph.Get(r.Context(), &query)
	if err != nil {
		h.logger.Errorw("Error getting channels", "error", err)
		http.Error(w, "Error getting channels", http.StatusInternalServerError)
		return
	}

	response := ChannelsResponse{Channels: make([]Channel, 0, len(channels))}
	for _, info := range channels {
		response.Channels = append(response.Channels, Channel{
			ChannelID:        info.ID().Hex(),
			PartyA:           info.PartyA.Hex(),
			PartyB:           info.PartyB.Hex(),
			BlockNumber:      info.Entry.BlockNumber,
			TransactionIndex: info.Entry.TransactionIndex,
			LogIndex:         info.Entry.LogIndex,
		})
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetPath(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	start, err := entities.AccountIdFromHex(params.Get("start"))
	if err != nil {
		http.Error(w, "Invalid start", http.StatusBadRequest)
		return
	}
	hops, err := strconv.Atoi(params.Get("hops"))
	if err != nil || hops < 0 || hops > maxPathHops {
		http.Error(w, "Invalid hops", http.StatusBadRequest)
		return
	}

	var filter path.Filter
	if exclude := params.Get("exclude"); exclude != "" {
		excluded := make(map[entities.AccountId]struct{})
		for _, value := range strings.Split(exclude, ",") {
			account, err := entities.AccountIdFromHex(strings.TrimSpace(value))
			if err != nil {
				http.Error(w, "Invalid exclude", http.StatusBadRequest)
				return
			}
			excluded[account] = struct{}{}
		}
		filter = func(node entities.AccountId) bool {
			_, ok := excluded[node]
			return !ok
		}
	}

	nodes, err := h.paths.FindPath(r.Context(), start, hops, filter)
	if err != nil {
		h.logger.Errorw("Error finding path", "start", start.Hex(), "hops", hops, "error", err)
		http.Error(w, "Error finding path", http.StatusInternalServerError)
		return
	}

	response := PathResponse{Path: make([]string, 0, len(nodes))}
	for _, node := range nodes {
		response.Path = append(response.Path, node.Hex())
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) GetTickets(w http.ResponseWriter, r *http.Request) {
	raw, err := hexutil.Decode(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Invalid channel id", http.StatusBadRequest)
		return
	}
	channelID, err := entities.HashFromBytes(raw)
	if err != nil {
		http.Error(w, "Invalid channel id", http.StatusBadRequest)
		return
	}

	tickets, err := h.tickets.Tickets(channelID)
	if err != nil {
		h.logger.Errorw("Error getting tickets", "channel", channelID.Hex(), "error", err)
		http.Error(w, "Error getting tickets", http.StatusInternalServerError)
		return
	}

	response := TicketsResponse{Tickets: make([]Ticket, 0, len(tickets))}
	for _, st := range tickets {
		response.Tickets = append(response.Tickets, Ticket{
			Challenge:     st.Ticket.Challenge.Hex(),
			Epoch:         st.Ticket.Epoch.String(),
			Amount:        st.Ticket.Amount.String(),
			WinProb:       st.Ticket.WinProb.Hex(),
			OnChainSecret: st.Ticket.OnChainSecret.Hex(),
			Signature:     hexutil.Encode(st.Signature.Bytes()),
		})
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Add("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Errorw("Error encoding response", "error", err)
	}
}
