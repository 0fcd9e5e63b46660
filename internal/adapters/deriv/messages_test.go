package deriv

import (
	"testing"

	"derivbot/internal/domain"
	"derivbot/internal/ports"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	t.Run("tick", func(t *testing.T) {
		raw := `{"msg_type":"tick","tick":{"symbol":"R_100","epoch":1700000050,"quote":1234.56}}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, msgTypeTick, env.MsgType)
		require.NotNil(t, env.Tick)
		assert.Equal(t, domain.Tick{Symbol: "R_100", Epoch: 1700000050, Quote: 1234.56}, env.Tick.toTick())
	})

	t.Run("authorize", func(t *testing.T) {
		raw := `{"msg_type":"authorize","req_id":1,"authorize":{"balance":1000.5,"currency":"USD","loginid":"CR123"}}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		assert.Equal(t, int64(1), env.ReqID)
		require.NotNil(t, env.Authorize)
		assert.Equal(t, 1000.5, env.Authorize.Balance)
	})

	t.Run("candles", func(t *testing.T) {
		raw := `{"msg_type":"candles","req_id":2,"candles":[
			{"epoch":1700000040,"open":100,"high":101,"low":99,"close":100.5},
			{"epoch":1700000100,"open":100.5,"high":102,"low":100,"close":101}
		]}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		require.Len(t, env.Candles, 2)

		c := env.Candles[0].toCandle("R_100", 60)
		assert.Equal(t, "R_100", c.Symbol)
		assert.Equal(t, 60, c.Granularity)
		assert.Equal(t, int64(1700000040), c.PeriodStart)
		assert.Equal(t, 100.5, c.Close)
		assert.Zero(t, c.Volume, "history carries no tick counts")
	})

	t.Run("buy", func(t *testing.T) {
		raw := `{"msg_type":"buy","req_id":7,"buy":{"contract_id":123456789,"buy_price":0.35,"balance_after":999.65}}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, env.Buy)
		assert.Equal(t, int64(123456789), env.Buy.ContractID)
	})

	t.Run("open contract", func(t *testing.T) {
		raw := `{"msg_type":"proposal_open_contract","req_id":8,"proposal_open_contract":{"contract_id":123456789,"status":"won","is_sold":1,"profit":0.31}}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, env.ProposalOpenContract)
		assert.Equal(t, 1, env.ProposalOpenContract.IsSold)
		assert.Equal(t, "won", env.ProposalOpenContract.Status)
		assert.Equal(t, 0.31, env.ProposalOpenContract.Profit)
	})

	t.Run("error payload", func(t *testing.T) {
		raw := `{"msg_type":"buy","req_id":7,"error":{"code":"ContractBuyValidationError","message":"stake too low"}}`
		env, err := decodeEnvelope([]byte(raw))
		require.NoError(t, err)
		require.NotNil(t, env.Error)
		assert.Equal(t, "ContractBuyValidationError", env.Error.Code)
	})

	t.Run("malformed frame", func(t *testing.T) {
		_, err := decodeEnvelope([]byte(`{not json`))
		require.Error(t, err)
		assert.ErrorIs(t, err, ports.ErrMalformedMessage)
	})
}

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{code: "InvalidToken", want: ports.ErrAuthenticationFailed},
		{code: "AuthorizationRequired", want: ports.ErrAuthenticationFailed},
		{code: "InvalidAppID", want: ports.ErrAuthenticationFailed},
		{code: "RateLimit", want: ports.ErrRateLimited},
		{code: "MarketIsClosed", want: ports.ErrMarketClosed},
		{code: "InputValidationFailed", want: ports.ErrInvalidRequest},
		{code: "ContractBuyValidationError", want: ports.ErrTradeRejected},
		{code: "ContractNotFound", want: ports.ErrNotFound},
		{code: "SomethingNovel", want: ports.ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := mapAPIError(&apiError{Code: tt.code, Message: "boom"}, ports.ErrUnknown)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), tt.code)
		})
	}

	t.Run("nil error passes through", func(t *testing.T) {
		assert.NoError(t, mapAPIError(nil, ports.ErrUnknown))
	})

	t.Run("fallback applies to unmapped codes", func(t *testing.T) {
		err := mapAPIError(&apiError{Code: "WeirdTradeCode"}, ports.ErrTradeRejected)
		assert.ErrorIs(t, err, ports.ErrTradeRejected)
	})
}
