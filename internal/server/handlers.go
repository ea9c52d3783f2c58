package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"StackFutures/internal/engine"
)

// ============================================================================
// Market handlers
// ============================================================================

type initMarketRequest struct {
	MarketID        string `json:"market_id"`
	SettlementAsset string `json:"settlement_asset"`
	QuoteDecimals   uint8  `json:"quote_decimals"`
	ReferenceID     string `json:"reference_id"`
	OracleAuthority string `json:"oracle_authority"`
	PriceDecimals   uint8  `json:"price_decimals"`

	InitialMarginBps     uint16 `json:"initial_margin_bps"`
	MaintenanceMarginBps uint16 `json:"maintenance_margin_bps"`
	FeeBps               uint16 `json:"fee_bps"`
	LiquidatorBps        uint16 `json:"liquidator_bps"`
	PriceStaleSeconds    uint32 `json:"price_stale_seconds"`

	MaxLeverageBps   uint16   `json:"max_leverage_bps"`
	MaxNavJumpBps    uint16   `json:"max_nav_jump_bps"`
	MaxConfidenceBps *uint16  `json:"max_confidence_bps,omitempty"`
	MMBufferBps      *uint16  `json:"mm_buffer_bps,omitempty"`
	AdminThreshold   *int     `json:"admin_threshold,omitempty"`
	Admins           []string `json:"admins,omitempty"`
}

func (s *Server) handleInitMarket(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req initMarketRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	admins := make([]engine.ID, 0, len(req.Admins))
	for _, a := range req.Admins {
		admins = append(admins, engine.ID(a))
	}

	if err := s.svc.InitMarket(caller, req.MarketID, engine.InitParams{
		SettlementAsset:      req.SettlementAsset,
		QuoteDecimals:        req.QuoteDecimals,
		ReferenceID:          req.ReferenceID,
		OracleAuthority:      engine.ID(req.OracleAuthority),
		PriceDecimals:        req.PriceDecimals,
		InitialMarginBps:     req.InitialMarginBps,
		MaintenanceMarginBps: req.MaintenanceMarginBps,
		FeeBps:               req.FeeBps,
		LiquidatorBps:        req.LiquidatorBps,
		PriceStaleSeconds:    req.PriceStaleSeconds,
		MaxLeverageBps:       req.MaxLeverageBps,
		MaxNavJumpBps:        req.MaxNavJumpBps,
		MaxConfidenceBps:     req.MaxConfidenceBps,
		MMBufferBps:          req.MMBufferBps,
		AdminThreshold:       req.AdminThreshold,
		Admins:               admins,
	}); err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.svc.GetMarket(req.MarketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	snap, err := s.svc.GetMarket(chi.URLParam(r, "marketID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type postNAVRequest struct {
	Nav        uint64  `json:"nav"`
	Confidence *uint64 `json:"confidence,omitempty"`
}

func (s *Server) handlePostNAV(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req postNAVRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.PostNAV(caller, chi.URLParam(r, "marketID"), req.Nav, req.Confidence); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req pauseRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.PauseMarket(caller, cosigners(r), chi.URLParam(r, "marketID"), req.Paused); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"paused": req.Paused})
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var params engine.UpdateParams
	if err := decode(r, &params); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.UpdateMarketParams(caller, cosigners(r), chi.URLParam(r, "marketID"), params); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}

type proposeParamsRequest struct {
	Params       engine.UpdateParams `json:"params"`
	DelaySeconds int64               `json:"delay_seconds"`
}

func (s *Server) handleProposeParams(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req proposeParamsRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	marketID := chi.URLParam(r, "marketID")
	delay := time.Duration(req.DelaySeconds) * time.Second
	if err := s.svc.ProposeMarketParams(caller, cosigners(r), marketID, req.Params, delay); err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.svc.GetMarket(marketID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"eta": snap.PendingETA})
}

func (s *Server) handleExecuteParams(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.ExecuteMarketParams(caller, cosigners(r), chi.URLParam(r, "marketID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executed"})
}

type rotateAuthorityRequest struct {
	NewAuthority string `json:"new_authority"`
}

func (s *Server) handleRotateAuthority(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req rotateAuthorityRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.RotateAuthority(caller, cosigners(r), chi.URLParam(r, "marketID"), engine.ID(req.NewAuthority)); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authority": req.NewAuthority})
}

// ============================================================================
// Deal handlers
// ============================================================================

type openDealRequest struct {
	ClientOrderID uint64    `json:"client_order_id"`
	Long          string    `json:"long"`
	Short         string    `json:"short"`
	LongSource    uuid.UUID `json:"long_source"`
	ShortSource   uuid.UUID `json:"short_source"`
	Size          uint64    `json:"size"`
	LongDeposit   uint64    `json:"long_deposit"`
	ShortDeposit  uint64    `json:"short_deposit"`
}

func (s *Server) handleOpenDeal(w http.ResponseWriter, r *http.Request) {
	var req openDealRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	long, short := engine.ID(req.Long), engine.ID(req.Short)
	dealID, err := s.svc.OpenDeal(chi.URLParam(r, "marketID"), engine.OpenDealRequest{
		ClientOrderID: req.ClientOrderID,
		Long:          long,
		Short:         short,
		LongSource:    req.LongSource,
		ShortSource:   req.ShortSource,
		LongCustody:   s.svc.Custody(long),
		ShortCustody:  s.svc.Custody(short),
		Size:          req.Size,
		LongDeposit:   req.LongDeposit,
		ShortDeposit:  req.ShortDeposit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.svc.GetDeal(dealID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

func dealID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "dealID"))
}

func (s *Server) handleGetDeal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	snap, err := s.svc.GetDeal(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type addMarginRequest struct {
	Side   string    `json:"side"` // "long" or "short"
	Source uuid.UUID `json:"source"`
	Amount uint64    `json:"amount"`
}

func (s *Server) handleAddMargin(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	id, err := dealID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req addMarginRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	custody := s.svc.Custody(caller)
	switch req.Side {
	case "long":
		err = s.svc.AddMarginLong(id, caller, req.Source, custody, req.Amount)
	case "short":
		err = s.svc.AddMarginShort(id, caller, req.Source, custody, req.Amount)
	default:
		writeBadRequest(w, errInvalidSide)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.svc.GetDeal(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type closeDealRequest struct {
	LongDest  uuid.UUID `json:"long_dest"`
	ShortDest uuid.UUID `json:"short_dest"`
}

func (s *Server) handleCloseDeal(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req closeDealRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.CloseDeal(id, req.LongDest, req.ShortDest); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

type liquidateRequest struct {
	LiquidatorDest uuid.UUID `json:"liquidator_dest"`
	LongDest       uuid.UUID `json:"long_dest"`
	ShortDest      uuid.UUID `json:"short_dest"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req liquidateRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.Liquidate(id, req.LiquidatorDest, req.LongDest, req.ShortDest); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "liquidated"})
}

type liquidateToIMRequest struct {
	LiquidatorDest uuid.UUID `json:"liquidator_dest"`
	MaxBountyTake  uint64    `json:"max_bounty_take"`
}

func (s *Server) handleLiquidateToIM(w http.ResponseWriter, r *http.Request) {
	id, err := dealID(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req liquidateToIMRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.LiquidateToIM(id, req.LiquidatorDest, req.MaxBountyTake); err != nil {
		writeError(w, err)
		return
	}

	snap, err := s.svc.GetDeal(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ============================================================================
// Vault handlers
// ============================================================================

type vaultResponse struct {
	VaultID uuid.UUID `json:"vault_id"`
	Owner   string    `json:"owner"`
	Balance uint64    `json:"balance"`
}

func (s *Server) handleOpenVault(w http.ResponseWriter, r *http.Request) {
	caller, err := signer(r)
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	v, _ := s.svc.OpenVault(caller)
	writeJSON(w, http.StatusCreated, vaultResponse{VaultID: v, Owner: string(caller)})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "vaultID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}

	bal, err := s.svc.GetBalance(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": bal})
}

type depositRequest struct {
	Amount uint64 `json:"amount"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "vaultID"))
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var req depositRequest
	if err := decode(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}

	if err := s.svc.Deposit(id, req.Amount); err != nil {
		writeError(w, err)
		return
	}

	bal, err := s.svc.GetBalance(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"balance": bal})
}
