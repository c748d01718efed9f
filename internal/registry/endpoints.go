package registry

import (
	"net"
	"net/url"
	"strings"
)

// TronGrid HTTP API paths used by the TRON chain adapter.
const (
	TronTriggerConstantPath = "/wallet/triggerconstantcontract"
	TronTriggerSmartPath    = "/wallet/triggersmartcontract"
	TronGetAccountPath      = "/wallet/getaccount"
	TronBroadcastPath       = "/wallet/broadcasttransaction"
	TronTxInfoPath          = "/wallet/gettransactioninfobyid"

	// TronAPIKeyHeader carries the TronGrid project key.
	TronAPIKeyHeader = "TRON-PRO-API-KEY"
)

// IsAllowedRPCURL rejects plaintext endpoints outside loopback so signed
// transactions never travel over http to a remote host.
func IsAllowedRPCURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	if strings.TrimSpace(parsed.Hostname()) == "" {
		return false
	}
	scheme := strings.ToLower(strings.TrimSpace(parsed.Scheme))
	if isLoopbackHost(parsed.Hostname()) {
		return scheme == "http" || scheme == "https" || scheme == "ws"
	}
	return scheme == "https" || scheme == "wss"
}

func isLoopbackHost(host string) bool {
	h := strings.TrimSpace(strings.ToLower(host))
	if h == "localhost" {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
