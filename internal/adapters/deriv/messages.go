package deriv

import (
	"encoding/json"
	"fmt"

	"derivbot/internal/domain"
	"derivbot/internal/ports"
)

// Message kinds carried in the msg_type field of every Deriv response.
const (
	msgTypeAuthorize    = "authorize"
	msgTypeCandles      = "candles"
	msgTypeTick         = "tick"
	msgTypeProposal     = "proposal"
	msgTypeBuy          = "buy"
	msgTypeOpenContract = "proposal_open_contract"
	msgTypePing         = "ping"
)

// apiError is the error object embedded in any Deriv response.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// envelope is the tagged union of every inbound message kind. Exactly one of
// the payload pointers is set for a well-formed message; downstream code
// switches on MsgType and never probes ad-hoc keys.
type envelope struct {
	MsgType              string               `json:"msg_type"`
	ReqID                int64                `json:"req_id"`
	Error                *apiError            `json:"error"`
	Authorize            *authorizePayload    `json:"authorize"`
	Candles              []candlePayload      `json:"candles"`
	Tick                 *tickPayload         `json:"tick"`
	Proposal             *proposalPayload     `json:"proposal"`
	Buy                  *buyPayload          `json:"buy"`
	ProposalOpenContract *openContractPayload `json:"proposal_open_contract"`
}

type authorizePayload struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
	LoginID  string  `json:"loginid"`
}

type candlePayload struct {
	Epoch int64   `json:"epoch"`
	Open  float64 `json:"open"`
	High  float64 `json:"high"`
	Low   float64 `json:"low"`
	Close float64 `json:"close"`
}

type tickPayload struct {
	Symbol string  `json:"symbol"`
	Epoch  int64   `json:"epoch"`
	Quote  float64 `json:"quote"`
}

type proposalPayload struct {
	ID       string  `json:"id"`
	AskPrice float64 `json:"ask_price"`
	Payout   float64 `json:"payout"`
}

type buyPayload struct {
	ContractID   int64   `json:"contract_id"`
	BuyPrice     float64 `json:"buy_price"`
	BalanceAfter float64 `json:"balance_after"`
}

type openContractPayload struct {
	ContractID int64   `json:"contract_id"`
	Status     string  `json:"status"`
	IsSold     int     `json:"is_sold"`
	Profit     float64 `json:"profit"`
}

// decodeEnvelope parses one raw frame into the tagged variant.
func decodeEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ports.ErrMalformedMessage, err)
	}
	return &env, nil
}

// toTick converts the wire payload into the domain type.
func (t *tickPayload) toTick() domain.Tick {
	return domain.Tick{Symbol: t.Symbol, Epoch: t.Epoch, Quote: t.Quote}
}

// toCandle converts a historical wire candle. History carries no tick count,
// so Volume stays zero and the aggregator treats it as unknown.
func (c candlePayload) toCandle(symbol string, granularity int) domain.Candle {
	return domain.Candle{
		Symbol:      symbol,
		Granularity: granularity,
		PeriodStart: c.Epoch,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
	}
}

// mapAPIError translates Deriv error codes into the standard sentinels.
// fallback is the sentinel to use for codes with no specific mapping, so a
// trade call can default to rejection while transport calls default unknown.
func mapAPIError(e *apiError, fallback error) error {
	if e == nil {
		return nil
	}
	var mapped error
	switch e.Code {
	case "InvalidToken", "AuthorizationRequired", "InvalidAppID", "DisabledClient":
		mapped = ports.ErrAuthenticationFailed
	case "RateLimit":
		mapped = ports.ErrRateLimited
	case "MarketIsClosed":
		mapped = ports.ErrMarketClosed
	case "InputValidationFailed":
		mapped = ports.ErrInvalidRequest
	case "ContractBuyValidationError", "InvalidContractProposal", "InvalidOfferings", "OfferingsValidationError", "RestrictedCountry":
		mapped = ports.ErrTradeRejected
	case "ContractNotFound":
		mapped = ports.ErrNotFound
	default:
		mapped = fallback
	}
	return fmt.Errorf("%w: %s (%s)", mapped, e.Message, e.Code)
}
