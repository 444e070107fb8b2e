package services

import (
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coinvault/backend/internal/middleware"
	"github.com/coinvault/backend/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"
)

const (
	walletAgentBIC     = "COINVLTX"
	walletClearingID   = "COINVAULT"
	statusSettled      = "ACSC"
	exportCurrency     = "USD"
	pacs008MessageType = "pacs.008.001.08"
)

// TransferParties names both sides of a ledger entry
type TransferParties struct {
	DebtorID     string
	DebtorName   string
	CreditorID   string
	CreditorName string
}

// PartiesFor resolves debtor and creditor from the owner's side of an entry
func PartiesFor(owner *models.Account, entry models.LedgerEntry) TransferParties {
	if entry.Direction == models.DirectionIn {
		return TransferParties{
			DebtorID:     entry.CounterpartyID,
			DebtorName:   entry.CounterpartyName,
			CreditorID:   owner.ID,
			CreditorName: owner.DisplayName,
		}
	}
	return TransferParties{
		DebtorID:     owner.ID,
		DebtorName:   owner.DisplayName,
		CreditorID:   entry.CounterpartyID,
		CreditorName: entry.CounterpartyName,
	}
}

// ISO20022Service renders completed transfers as ISO 20022 messages for
// export to statements and reconciliation tools. The USD figure is the
// display value recorded at transfer time.
type ISO20022Service struct {
	store AccountStore
}

func NewISO20022Service(store AccountStore) *ISO20022Service {
	return &ISO20022Service{store: store}
}

// ExportTransfer renders one of the caller's ledger entries
// @Summary Export a transfer as ISO20022
// @Description Render a completed transfer as pacs.008 with a pacs.002 status report
// @Tags iso20022
// @Produce json
// @Param txId path string true "Transfer ID"
// @Success 200 {object} object{status=string,messageType=string,xml=string,statusXml=string}
// @Failure 404 {object} ErrorResponse
// @Router /transfers/{txId}/iso20022 [get]
func (iso *ISO20022Service) ExportTransfer(w http.ResponseWriter, r *http.Request) {
	accountID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	account, err := iso.store.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			SendErrorResponse(w, "Account not found", http.StatusNotFound, nil)
			return
		}
		SendErrorResponse(w, "Failed to load account", http.StatusInternalServerError, nil)
		return
	}

	entry, ok := account.FindEntry(chi.URLParam(r, "txId"))
	if !ok {
		SendErrorResponse(w, models.ErrTransactionNotFound.Error(), http.StatusNotFound, nil)
		return
	}

	parties := PartiesFor(account, entry)

	pacs008, err := iso.CreatePacs008(entry, parties)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	xmlData, err := iso.ConvertToXML(pacs008)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	pacs002, err := iso.CreatePacs002(entry, statusSettled)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	statusXML, err := iso.ConvertToXML(pacs002)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "converted",
		"messageType": pacs008MessageType,
		"xml":         xmlData,
		"statusXml":   statusXML,
	})
}

func parseEntryTime(entry models.LedgerEntry) time.Time {
	ts, err := time.Parse(time.RFC3339Nano, entry.Timestamp)
	if err != nil {
		return time.Now().UTC()
	}
	return ts
}

// CreatePacs008 creates a pacs.008 FIToFICustomerCreditTransfer message
func (iso *ISO20022Service) CreatePacs008(entry models.LedgerEntry, parties TransferParties) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	if entry.TxID == "" {
		return nil, fmt.Errorf("ledger entry has no transaction id")
	}

	msgId := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := parseEntryTime(entry)
	amount := entry.Amount.InexactFloat64()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode(exportCurrency),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "INDA", // settled on the wallet's own books
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(entry.TxID)}[0],
					EndToEndId: common.Max35Text(entry.TxID),
					TxId:       &[]common.Max35Text{common.Max35Text(entry.TxID)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode(exportCurrency),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(walletAgentBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(partyName(parties.DebtorName, parties.DebtorID))}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(walletClearingID),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(partyName(parties.CreditorName, parties.CreditorID))}[0],
				},
			},
		},
	}

	return doc, nil
}

// CreatePacs002 creates a pacs.002 payment status report
func (iso *ISO20022Service) CreatePacs002(entry models.LedgerEntry, status string) (*pacs_v08.FIToFIPaymentStatusReportV08, error) {
	msgId := uuid.New().String()
	creDtTm := time.Now()

	doc := &pacs_v08.FIToFIPaymentStatusReportV08{
		GrpHdr: pacs_v08.GroupHeader53{
			MsgId:   common.Max35Text(msgId),
			CreDtTm: common.ISODateTime(creDtTm),
		},
		TxInfAndSts: []pacs_v08.PaymentTransaction80{
			{
				OrgnlInstrId:    &[]common.Max35Text{common.Max35Text(entry.TxID)}[0],
				OrgnlEndToEndId: &[]common.Max35Text{common.Max35Text(entry.TxID)}[0],
				OrgnlTxId:       &[]common.Max35Text{common.Max35Text(entry.TxID)}[0],
				TxSts:           &[]pacs_v08.ExternalPaymentTransactionStatus1Code{pacs_v08.ExternalPaymentTransactionStatus1Code(status)}[0],
			},
		},
	}

	return doc, nil
}

// ConvertToXML converts ISO20022 document to XML string
func (iso *ISO20022Service) ConvertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}

func partyName(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
