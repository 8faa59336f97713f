package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteArgs(t *testing.T) {
	assert.Equal(t, `print --compose text:"Hello World" cut`,
		quoteArgs([]string{"print", "--compose", "text:Hello World", "cut"}))
	assert.Equal(t, `printer rename abc "Front desk"`,
		quoteArgs([]string{"printer", "rename", "abc", "Front desk"}))
}

func TestLooksLikeAddress(t *testing.T) {
	assert.True(t, looksLikeAddress("66:22:B3:0A:11:7C"))
	assert.True(t, looksLikeAddress("9E1A4F0B-3C2D-4E5F-8A9B-0C1D2E3F4A5B"))
	assert.False(t, looksLikeAddress("MTP-II"))
}

func TestConnect_SendsAddressOrName(t *testing.T) {
	var got []map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = append(got, body)
		w.Write([]byte(`{"success": true, "status": {"state": "connected", "connected": true}}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL + "/")
	st, err := c.Connect("66:22:B3:0A:11:7C")
	require.NoError(t, err)
	assert.True(t, st.Status.Connected)

	_, err = c.Connect("mtp")
	require.NoError(t, err)
	_, err = c.Connect("")
	require.NoError(t, err)

	assert.Equal(t, []map[string]string{
		{"address": "66:22:B3:0A:11:7C"},
		{"name": "mtp"},
		{},
	}, got)
}

func TestPrint_ErrorKeepsJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/print", r.URL.Path)
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success": false, "error": "2 of 9 print commands failed", "job": {"id": "j1", "status": "partial"}}`))
	}))
	defer srv.Close()

	j, err := newClient(srv.URL).Print([]byte(`{}`))
	require.Error(t, err)

	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.Code)
	assert.Contains(t, apiErr.Message, "2 of 9")
	require.NotNil(t, j)
	assert.Equal(t, "partial", j.Status)
}

func TestDo_ErrorWithoutBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := newClient(srv.URL).Disconnect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Service Unavailable")
}

func TestPrinterDisplayName(t *testing.T) {
	assert.Equal(t, "Front", printerEntry{Name: "Front", AdvertisedName: "MTP"}.displayName())
	assert.Equal(t, "MTP", printerEntry{AdvertisedName: "MTP", Address: "A"}.displayName())
	assert.Equal(t, "A", printerEntry{Address: "A"}.displayName())
}
