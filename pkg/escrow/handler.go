package escrow

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/holiman/uint256"

	"propertyescrow/pkg/auth"
	"propertyescrow/pkg/response"
)

// EscrowService is the engine surface exposed over HTTP.
type EscrowService interface {
	List(ctx context.Context, caller common.Address, assetID uint64, buyer common.Address, price, downPayment *uint256.Int) (*Listing, error)
	Deposit(ctx context.Context, caller common.Address, assetID uint64, amount *uint256.Int) (uint256.Int, error)
	Fund(ctx context.Context, caller common.Address, amount *uint256.Int) (uint256.Int, error)
	UpdateInspectionStatus(ctx context.Context, caller common.Address, assetID uint64, passed bool) error
	ApproveSale(ctx context.Context, caller common.Address, assetID uint64) error
	FinalizeSale(ctx context.Context, caller common.Address, assetID uint64) (*Listing, error)
	Listing(assetID uint64) (*Listing, bool)
	Listings() []*Listing
	Approval(assetID uint64, addr common.Address) bool
	Balance() uint256.Int
	Proceeds(addr common.Address) uint256.Int
	Roles() Roles
	Self() common.Address
}

type EscrowHandler struct {
	service EscrowService
}

func NewEscrowHandler(service EscrowService) *EscrowHandler {
	return &EscrowHandler{service: service}
}

// RegisterRoutes mounts read-only routes publicly and mutating routes behind
// authenticate, which must place the caller address on the context.
func (h *EscrowHandler) RegisterRoutes(router gin.IRouter, authenticate gin.HandlerFunc) {
	router.GET("/escrow", h.getEscrow)
	router.GET("/escrow/proceeds/:address", h.getProceeds)
	router.GET("/listings", h.listListings)
	router.GET("/listings/:id", h.getListing)
	router.GET("/listings/:id/approvals/:address", h.getApproval)

	authed := router.Group("/", authenticate)
	authed.POST("/listings", h.createListing)
	authed.POST("/listings/:id/deposit", h.deposit)
	authed.POST("/escrow/fund", h.fund)
	authed.PUT("/listings/:id/inspection", h.updateInspection)
	authed.POST("/listings/:id/approve", h.approve)
	authed.POST("/listings/:id/finalize", h.finalize)
}

type listingResponse struct {
	AssetID          uint64     `json:"asset_id"`
	Buyer            string     `json:"buyer"`
	PurchasePrice    string     `json:"purchase_price"`
	DownPayment      string     `json:"down_payment"`
	Status           string     `json:"status"`
	IsListed         bool       `json:"is_listed"`
	InspectionPassed bool       `json:"inspection_passed"`
	Approvals        []string   `json:"approvals"`
	ListedAt         time.Time  `json:"listed_at"`
	FinalizedAt      *time.Time `json:"finalized_at,omitempty"`
}

func toListingResponse(l *Listing) listingResponse {
	approvals := make([]string, 0, len(l.Approvals))
	for addr, ok := range l.Approvals {
		if ok {
			approvals = append(approvals, addr.Hex())
		}
	}
	sort.Strings(approvals)

	resp := listingResponse{
		AssetID:          l.AssetID,
		Buyer:            l.Buyer.Hex(),
		PurchasePrice:    l.PurchasePrice.Dec(),
		DownPayment:      l.DownPayment.Dec(),
		Status:           l.Status.String(),
		IsListed:         l.IsListed(),
		InspectionPassed: l.InspectionPassed,
		Approvals:        approvals,
		ListedAt:         l.ListedAt,
	}
	if !l.FinalizedAt.IsZero() {
		finalized := l.FinalizedAt
		resp.FinalizedAt = &finalized
	}
	return resp
}

type escrowResponse struct {
	Address         string `json:"address"`
	Registry        string `json:"registry"`
	SellerAuthority string `json:"seller_authority"`
	Inspector       string `json:"inspector"`
	LoanProvider    string `json:"loan_provider"`
	Balance         string `json:"balance"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type approvalResponse struct {
	AssetID  uint64 `json:"asset_id"`
	Address  string `json:"address"`
	Approved bool   `json:"approved"`
}

type proceedsResponse struct {
	Address string `json:"address"`
	Amount  string `json:"amount"`
}

type createListingRequest struct {
	AssetID       uint64 `json:"asset_id" binding:"required"`
	Buyer         string `json:"buyer" binding:"required"`
	PurchasePrice string `json:"purchase_price" binding:"required"`
	DownPayment   string `json:"down_payment" binding:"required"`
}

type amountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

type inspectionRequest struct {
	Passed *bool `json:"passed" binding:"required"`
}

// @Summary      Escrow overview
// @Description  Returns the fixed role addresses, the bound registry and the pooled balance
// @Tags         escrow
// @Produce      json
// @Success      200  {object}  response.APIResponse{data=escrowResponse}
// @Router       /escrow [get]
func (h *EscrowHandler) getEscrow(c *gin.Context) {
	roles := h.service.Roles()
	balance := h.service.Balance()
	response.SendAPIResponse(c, http.StatusOK, true, "escrow fetched", escrowResponse{
		Address:         h.service.Self().Hex(),
		Registry:        roles.Registry.Hex(),
		SellerAuthority: roles.SellerAuthority.Hex(),
		Inspector:       roles.Inspector.Hex(),
		LoanProvider:    roles.LoanProvider.Hex(),
		Balance:         balance.Dec(),
	})
}

// @Summary      Settlement proceeds
// @Description  Total amount released to an address by finalized sales
// @Tags         escrow
// @Produce      json
// @Param        address  path      string  true  "Payee address"
// @Success      200      {object}  response.APIResponse{data=proceedsResponse}
// @Failure      400      {object}  response.APIResponse "Invalid address"
// @Router       /escrow/proceeds/{address} [get]
func (h *EscrowHandler) getProceeds(c *gin.Context) {
	addr, ok := parseAddressParam(c, "address")
	if !ok {
		return
	}
	amount := h.service.Proceeds(addr)
	response.SendAPIResponse(c, http.StatusOK, true, "proceeds fetched", proceedsResponse{
		Address: addr.Hex(),
		Amount:  amount.Dec(),
	})
}

// @Summary      List listings
// @Description  Returns every listing, open and finalized, ordered by asset id
// @Tags         listings
// @Produce      json
// @Success      200  {object}  response.APIResponse{data=[]listingResponse}
// @Router       /listings [get]
func (h *EscrowHandler) listListings(c *gin.Context) {
	listings := h.service.Listings()
	out := make([]listingResponse, 0, len(listings))
	for _, l := range listings {
		out = append(out, toListingResponse(l))
	}
	response.SendAPIResponse(c, http.StatusOK, true, "listings fetched", out)
}

// @Summary      Get listing
// @Tags         listings
// @Produce      json
// @Param        id   path      int  true  "Asset ID"
// @Success      200  {object}  response.APIResponse{data=listingResponse}
// @Failure      400  {object}  response.APIResponse "Invalid asset ID"
// @Failure      404  {object}  response.APIResponse "Listing not found"
// @Router       /listings/{id} [get]
func (h *EscrowHandler) getListing(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	l, found := h.service.Listing(id)
	if !found {
		response.SendAPIResponse(c, http.StatusNotFound, false, "listing not found", nil)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "listing fetched", toListingResponse(l))
}

// @Summary      Approval flag
// @Description  Reports whether an address has approved the sale of an asset
// @Tags         listings
// @Produce      json
// @Param        id       path      int     true  "Asset ID"
// @Param        address  path      string  true  "Approver address"
// @Success      200      {object}  response.APIResponse{data=approvalResponse}
// @Failure      400      {object}  response.APIResponse "Invalid request"
// @Router       /listings/{id}/approvals/{address} [get]
func (h *EscrowHandler) getApproval(c *gin.Context) {
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	addr, ok := parseAddressParam(c, "address")
	if !ok {
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "approval fetched", approvalResponse{
		AssetID:  id,
		Address:  addr.Hex(),
		Approved: h.service.Approval(id, addr),
	})
}

// @Summary      List a property
// @Description  Seller authority lists a property it has approved the escrow to move. Custody moves to the escrow.
// @Tags         listings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body createListingRequest true "Listing terms"
// @Success      201  {object}  response.APIResponse{data=listingResponse}
// @Failure      400  {object}  response.APIResponse "Invalid request payload"
// @Failure      403  {object}  response.APIResponse "Caller is not the seller authority"
// @Failure      409  {object}  response.APIResponse "Asset already listed"
// @Failure      422  {object}  response.APIResponse "Registry rejected the transfer"
// @Router       /listings [post]
func (h *EscrowHandler) createListing(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}
	if !common.IsHexAddress(req.Buyer) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid buyer address", nil)
		return
	}
	price, err := ParseAmount(req.PurchasePrice)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid purchase_price", nil)
		return
	}
	down, err := ParseAmount(req.DownPayment)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid down_payment", nil)
		return
	}

	l, err := h.service.List(c.Request.Context(), caller, req.AssetID, common.HexToAddress(req.Buyer), price, down)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusCreated, true, "property listed", toListingResponse(l))
}

// @Summary      Deposit toward a listing
// @Description  Adds funds to the pooled balance for a listed asset. No minimum is enforced against the down payment.
// @Tags         listings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  int            true  "Asset ID"
// @Param        request  body  amountRequest  true  "Amount in wei, or suffixed with ether"
// @Success      200  {object}  response.APIResponse{data=balanceResponse}
// @Failure      400  {object}  response.APIResponse "Invalid request"
// @Failure      404  {object}  response.APIResponse "Asset not listed"
// @Router       /listings/{id}/deposit [post]
func (h *EscrowHandler) deposit(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	balance, err := h.service.Deposit(c.Request.Context(), caller, id, amount)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "deposit received", balanceResponse{Balance: balance.Dec()})
}

// @Summary      Fund the escrow pool
// @Description  Adds funds to the pooled balance without naming a listing
// @Tags         escrow
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request  body  amountRequest  true  "Amount in wei, or suffixed with ether"
// @Success      200  {object}  response.APIResponse{data=balanceResponse}
// @Failure      400  {object}  response.APIResponse "Invalid amount"
// @Router       /escrow/fund [post]
func (h *EscrowHandler) fund(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	amount, ok := bindAmount(c)
	if !ok {
		return
	}

	balance, err := h.service.Fund(c.Request.Context(), caller, amount)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "funds received", balanceResponse{Balance: balance.Dec()})
}

// @Summary      Record inspection result
// @Tags         listings
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id       path  int                true  "Asset ID"
// @Param        request  body  inspectionRequest  true  "Inspection verdict"
// @Success      200  {object}  response.APIResponse
// @Failure      403  {object}  response.APIResponse "Caller is not the inspector"
// @Failure      404  {object}  response.APIResponse "Asset not listed"
// @Router       /listings/{id}/inspection [put]
func (h *EscrowHandler) updateInspection(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := parseAssetID(c)
	if !ok {
		return
	}
	var req inspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return
	}

	if err := h.service.UpdateInspectionStatus(c.Request.Context(), caller, id, *req.Passed); err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "inspection recorded", nil)
}

// @Summary      Approve a sale
// @Description  Records the caller's own approval for the listing
// @Tags         listings
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  int  true  "Asset ID"
// @Success      200  {object}  response.APIResponse
// @Failure      404  {object}  response.APIResponse "Asset not listed"
// @Router       /listings/{id}/approve [post]
func (h *EscrowHandler) approve(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := parseAssetID(c)
	if !ok {
		return
	}

	if err := h.service.ApproveSale(c.Request.Context(), caller, id); err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "sale approved", nil)
}

// @Summary      Finalize a sale
// @Description  Moves the property to the buyer and the purchase price to the seller authority, atomically
// @Tags         listings
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  int  true  "Asset ID"
// @Success      200  {object}  response.APIResponse{data=listingResponse}
// @Failure      402  {object}  response.APIResponse "Pooled balance below purchase price"
// @Failure      409  {object}  response.APIResponse "Settlement precondition not met"
// @Failure      422  {object}  response.APIResponse "Registry rejected the transfer"
// @Router       /listings/{id}/finalize [post]
func (h *EscrowHandler) finalize(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := parseAssetID(c)
	if !ok {
		return
	}

	l, err := h.service.FinalizeSale(c.Request.Context(), caller, id)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	response.SendAPIResponse(c, http.StatusOK, true, "sale finalized", toListingResponse(l))
}

func callerOrAbort(c *gin.Context) (common.Address, bool) {
	caller, ok := auth.Caller(c)
	if !ok {
		response.AbortWithAPIResponse(c, http.StatusUnauthorized, "missing caller identity")
		return common.Address{}, false
	}
	return caller, true
}

func parseAssetID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid asset id", nil)
		return 0, false
	}
	return id, true
}

func parseAddressParam(c *gin.Context, name string) (common.Address, bool) {
	raw := c.Param(name)
	if !common.IsHexAddress(raw) {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid address", nil)
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func bindAmount(c *gin.Context) (*uint256.Int, bool) {
	var req amountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid request payload", nil)
		return nil, false
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		response.SendAPIResponse(c, http.StatusBadRequest, false, "invalid amount", nil)
		return nil, false
	}
	return amount, true
}

func writeEngineError(c *gin.Context, err error) {
	var precondition *PreconditionError
	switch {
	case errors.As(err, &precondition) && precondition.Condition != ConditionListed:
		response.SendAPIResponse(c, http.StatusConflict, false, err.Error(), gin.H{"condition": precondition.Condition})
	case errors.Is(err, ErrUnauthorized):
		response.SendAPIResponse(c, http.StatusForbidden, false, err.Error(), nil)
	case errors.Is(err, ErrNotListed):
		response.SendAPIResponse(c, http.StatusNotFound, false, err.Error(), nil)
	case errors.Is(err, ErrAlreadyListed):
		response.SendAPIResponse(c, http.StatusConflict, false, err.Error(), nil)
	case errors.Is(err, ErrInvalidTerms):
		response.SendAPIResponse(c, http.StatusBadRequest, false, err.Error(), nil)
	case errors.Is(err, ErrInsufficientFunds):
		response.SendAPIResponse(c, http.StatusPaymentRequired, false, err.Error(), nil)
	case errors.Is(err, ErrTransferRejected):
		response.SendAPIResponse(c, http.StatusUnprocessableEntity, false, err.Error(), nil)
	default:
		response.SendAPIResponse(c, http.StatusInternalServerError, false, err.Error(), nil)
	}
}
