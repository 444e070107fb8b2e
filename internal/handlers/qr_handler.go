package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/coinvault/backend/internal/services"
	"github.com/shopspring/decimal"
)

type QRHandler struct {
	service   *services.QRService
	accounts  services.AccountStore
	validator *services.ValidationHelper
}

func NewQRHandler(service *services.QRService, accounts services.AccountStore) *QRHandler {
	return &QRHandler{
		service:   service,
		accounts:  accounts,
		validator: services.NewValidationHelper(),
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	return true
}

// GenerateQR generates a transfer-request QR code for the caller
// @Summary Generate QR Code
// @Description Generate a QR code asking for a transfer to the caller's account
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{asset=string,amount=string} true "QR generation request"
// @Success 200 {object} object{qrCode=string,qrImage=string}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /qr/generate [post]
func (h *QRHandler) GenerateQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Asset  string `json:"asset" validate:"required,max=10"`
		Amount string `json:"amount" validate:"omitempty,max=40"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		parsed, err := services.ParseAmount(req.Amount)
		if err != nil {
			services.SendErrorResponse(w, models.ErrInvalidAmount.Error(), http.StatusBadRequest, nil)
			return
		}
		amount = parsed
	}

	account, err := h.accounts.GetAccount(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
		return
	}

	qrCode, qrImage, err := h.service.GenerateQRCode(r.Context(), account, strings.ToUpper(strings.TrimSpace(req.Asset)), amount)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrQRUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"qrCode":  qrCode,
		"qrImage": qrImage,
	})
}

// ProcessQR redeems a scanned transfer-request QR code
// @Summary Process QR Code
// @Description Redeem a scanned QR code and return the transfer it requests
// @Tags QR
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{qrData=string} true "QR processing request"
// @Success 200 {object} object{success=bool,data=services.TransferQR}
// @Failure 400 {object} services.ErrorResponse
// @Router /qr/process [post]
func (h *QRHandler) ProcessQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		QRData string `json:"qrData" validate:"required"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.ProcessQRCode(r.Context(), req.QRData, userID)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, services.ErrQRUnavailable) {
			status = http.StatusServiceUnavailable
		}
		services.SendErrorResponse(w, err.Error(), status, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    result,
	})
}
