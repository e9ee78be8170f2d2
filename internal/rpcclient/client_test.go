package rpcclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHeadBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "eth_blockNumber", req.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		resp := rpcResponse{ID: req.ID, Result: json.RawMessage(`"0x1234"`)}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := New(srv.URL, "secret")
	head, err := c.HeadBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(0x1234), head)
}

func TestHeadBlock_ProtocolError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := rpcResponse{ID: req.ID, Error: &rpcError{Code: -32000, Message: "rate limited"}}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.HeadBlock(context.Background())
	require.Error(t, err)
	var protoErr *ProtocolError
	require.ErrorAs(t, err, &protoErr)
	require.Contains(t, protoErr.Error(), "rate limited")
}

func TestHeadBlock_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, err := c.HeadBlock(context.Background())
	require.Error(t, err)
	var transportErr *TransportError
	require.ErrorAs(t, err, &transportErr)
}

func TestGetLogsBatch(t *testing.T) {
	addr := common.HexToAddress("0x4d97dcd97ec945f40cf65f87097ace5ea0476045")
	topic := common.HexToHash("0xaabbccdd")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		require.Len(t, reqs, 2)

		responses := make([]rpcResponse, len(reqs))
		for i, req := range reqs {
			responses[i] = rpcResponse{ID: req.ID, Result: json.RawMessage(`[]`)}
		}
		require.NoError(t, json.NewEncoder(w).Encode(responses))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	queries := []LogQuery{
		{Address: &addr, FromBlock: 100, ToBlock: 200, Topic0: []common.Hash{topic}},
		{Address: nil, FromBlock: 100, ToBlock: 200, Topic0: []common.Hash{topic}},
	}

	results, n, err := c.GetLogsBatch(context.Background(), queries)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Greater(t, n, int64(0))
}

func TestGetLogsBatch_PerElementError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var reqs []rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&reqs))
		responses := []rpcResponse{
			{ID: reqs[0].ID, Error: &rpcError{Code: -32005, Message: "query returned more than 10000 results"}},
		}
		require.NoError(t, json.NewEncoder(w).Encode(responses))
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	_, _, err := c.GetLogsBatch(context.Background(), []LogQuery{{FromBlock: 1, ToBlock: 2}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "more than 10000")
}

func TestGetLogsBatch_Empty(t *testing.T) {
	c := New("http://unused.invalid", "")
	results, n, err := c.GetLogsBatch(context.Background(), nil)
	require.NoError(t, err)
	require.Nil(t, results)
	require.Equal(t, int64(0), n)
}
