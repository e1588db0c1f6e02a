package target_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cmwaters/verdict/pkg/target"
	"github.com/cmwaters/verdict/voting"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/stretchr/testify/require"
)

var (
	testCtx  = context.Background()
	treasury = common.HexToAddress("0x000000000000000000000000000000000000beef")
	vault    = common.HexToAddress("0x000000000000000000000000000000000000cafe")
	caller   = common.HexToAddress("0x0000000000000000000000000000000000000010")
)

func call(to common.Address, signature string) voting.Call {
	sel := target.Selector(signature)
	return voting.Call{
		Instance: 7,
		Caller:   caller,
		Target:   to,
		Payload:  append(sel[:], common.LeftPadBytes([]byte{0x2a}, 32)...),
	}
}

func TestSelector(t *testing.T) {
	sel := target.Selector("transfer(address,uint256)")
	require.Equal(t, "0xa9059cbb", hexutil.Encode(sel[:]))
}

func TestRouter(t *testing.T) {
	r := target.NewRouter()
	r.Handle(treasury, "release(uint256)", func(_ context.Context, c voting.Call) ([]byte, error) {
		require.Equal(t, caller, c.Caller)
		return []byte{0x01}, nil
	})

	ret, err := r.Dispatch(testCtx, call(treasury, "release(uint256)"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, ret)

	_, err = r.Dispatch(testCtx, call(treasury, "burn(uint256)"))
	require.ErrorIs(t, err, voting.ErrUnsupportedCall)

	_, err = r.Dispatch(testCtx, call(vault, "release(uint256)"))
	require.ErrorIs(t, err, voting.ErrUnsupportedCall)

	_, err = r.Dispatch(testCtx, voting.Call{Target: treasury, Payload: []byte{0x01}})
	require.ErrorIs(t, err, voting.ErrUnsupportedCall)
}

type dispatcherFunc func(ctx context.Context, call voting.Call) ([]byte, error)

func (f dispatcherFunc) Dispatch(ctx context.Context, call voting.Call) ([]byte, error) {
	return f(ctx, call)
}

func TestRouterFallsBackToRoute(t *testing.T) {
	r := target.NewRouter()
	r.Handle(treasury, "release(uint256)", func(context.Context, voting.Call) ([]byte, error) {
		return []byte{0x01}, nil
	})
	r.Route(treasury, dispatcherFunc(func(context.Context, voting.Call) ([]byte, error) {
		return []byte{0x02}, nil
	}))

	ret, err := r.Dispatch(testCtx, call(treasury, "release(uint256)"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, ret)

	ret, err = r.Dispatch(testCtx, call(treasury, "burn(uint256)"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, ret)
}

func TestWebhook(t *testing.T) {
	for _, tc := range []struct {
		name        string
		status      int
		body        string
		want        []byte
		unsupported bool
		fails       bool
	}{
		{name: "return data", status: http.StatusOK, body: `{"return":"0x0102"}`, want: []byte{0x01, 0x02}},
		{name: "empty body", status: http.StatusOK},
		{name: "not found", status: http.StatusNotFound, unsupported: true, fails: true},
		{name: "not implemented", status: http.StatusNotImplemented, unsupported: true, fails: true},
		{name: "server error", status: http.StatusInternalServerError, fails: true},
		{name: "garbage", status: http.StatusOK, body: "{", fails: true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodPost, r.Method)
				var req struct {
					Instance uint64         `json:"instance"`
					Caller   common.Address `json:"caller"`
					Target   common.Address `json:"target"`
					Payload  hexutil.Bytes  `json:"payload"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				if req.Instance != 7 || req.Caller != caller || req.Target != treasury || len(req.Payload) != 36 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			ret, err := target.NewWebhook(srv.URL, nil).Dispatch(testCtx, call(treasury, "release(uint256)"))
			if !tc.fails {
				require.NoError(t, err)
				require.Equal(t, tc.want, ret)
				return
			}
			require.Error(t, err)
			require.Equal(t, tc.unsupported, errors.Is(err, voting.ErrUnsupportedCall))
		})
	}
}
