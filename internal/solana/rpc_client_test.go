package solana

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func rpcResult(t *testing.T, w http.ResponseWriter, id uint64, result interface{}) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      id,
		"result":  result,
	})
	require.NoError(t, err)
}

func TestHTTPClient_GetLatestBlockhash(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getLatestBlockhash", req.Method)

		rpcResult(t, w, req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"blockhash":            "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM",
				"lastValidBlockHeight": int64(350_000_000),
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	latest, err := client.GetLatestBlockhash(context.Background())
	require.NoError(t, err)
	require.Equal(t, "4uQeVj5tqViQh7yWWGStvkEG1Zmhx6uasJtWCJziofM", latest.Blockhash)
	require.Equal(t, int64(350_000_000), latest.LastValidBlockHeight)
}

func TestHTTPClient_GetAccountInfo_NotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rpcResult(t, w, req.ID, map[string]interface{}{"value": nil})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), "somekey")
	require.NoError(t, err)
	require.Nil(t, info)
}

func TestHTTPClient_GetAccountInfo_DecodesData(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		rpcResult(t, w, req.ID, map[string]interface{}{
			"value": map[string]interface{}{
				"lamports":   uint64(1_000_000),
				"owner":      "owner111",
				"data":       []string{"AQID", "base64"}, // [1 2 3]
				"executable": false,
			},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	info, err := client.GetAccountInfo(context.Background(), "somekey")
	require.NoError(t, err)
	require.NotNil(t, info)
	require.Equal(t, uint64(1_000_000), info.Lamports)
	require.Equal(t, []byte{1, 2, 3}, info.Data)
}

func TestHTTPClient_RetriesOn429(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		rpcResult(t, w, req.ID, map[string]interface{}{"value": uint64(42)})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	balance, err := client.GetBalance(context.Background(), "somekey")
	require.NoError(t, err)
	require.Equal(t, uint64(42), balance)
	require.Equal(t, int32(2), calls.Load())
}

func TestHTTPClient_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		calls.Add(1)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"error":   map[string]interface{}{"code": -32002, "message": "Blockhash not found"},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, WithRetryDelay(time.Millisecond))
	_, err := client.SendTransaction(context.Background(), "dGVzdA==")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Blockhash not found")
	require.Equal(t, int32(1), calls.Load())
}

func TestHTTPClient_SendTransaction(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "sendTransaction", req.Method)
		require.Len(t, req.Params, 2)

		opts, ok := req.Params[1].(map[string]interface{})
		require.True(t, ok)
		require.Equal(t, "base64", opts["encoding"])

		rpcResult(t, w, req.ID, "5signature")
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL)
	sig, err := client.SendTransaction(context.Background(), "dGVzdA==")
	require.NoError(t, err)
	require.Equal(t, "5signature", sig)
}
