// Package bitid renders challenges as BitID URIs and extracts them back.
//
// A rendered challenge looks like bitid://example.com/auth/login?x=<nonce>,
// with an extra u=1 parameter when the callback is served over plain http.
// Clients sign the whole URI, which binds the signature to both the nonce and
// the service that issued it.
package bitid

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/layer-3/cryptolock/core"
)

const (
	Scheme = "bitid"

	nonceParam    = "x"
	unsecureParam = "u"
)

// Render embeds nonce into a BitID URI pointing back at issuerURI
func Render(nonce, issuerURI string) (string, error) {
	issuer, err := url.Parse(issuerURI)
	if err != nil {
		return "", fmt.Errorf("invalid issuer uri: %w", err)
	}
	if issuer.Host == "" {
		return "", fmt.Errorf("issuer uri %q has no host", issuerURI)
	}

	path := issuer.EscapedPath()
	if path == "" {
		path = "/"
	}

	query := nonceParam + "=" + url.QueryEscape(nonce)
	if issuer.Scheme == "http" {
		query += "&" + unsecureParam + "=1"
	}

	return Scheme + "://" + issuer.Host + path + "?" + query, nil
}

// Parse extracts the raw nonce from a BitID URI
func Parse(uri string) (string, error) {
	u, err := parse(uri)
	if err != nil {
		return "", err
	}
	return u.Query().Get(nonceParam), nil
}

// Callback returns the http(s) URI a BitID URI points back at
func Callback(uri string) (string, error) {
	u, err := parse(uri)
	if err != nil {
		return "", err
	}

	scheme := "https"
	if u.Query().Get(unsecureParam) == "1" {
		scheme = "http"
	}

	callback := url.URL{Scheme: scheme, Host: u.Host, Path: u.Path, RawPath: u.RawPath}
	return callback.String(), nil
}

// CallbackMatches reports whether uri was issued for issuerURI. Query strings
// and a trailing slash on the path are ignored.
func CallbackMatches(uri, issuerURI string) bool {
	callback, err := Callback(uri)
	if err != nil {
		return false
	}
	got, err := url.Parse(callback)
	if err != nil {
		return false
	}
	want, err := url.Parse(issuerURI)
	if err != nil {
		return false
	}

	return got.Scheme == want.Scheme &&
		strings.EqualFold(got.Host, want.Host) &&
		strings.TrimSuffix(got.Path, "/") == strings.TrimSuffix(want.Path, "/")
}

func parse(uri string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrMalformedChallenge, err)
	}
	if u.Scheme != Scheme {
		return nil, fmt.Errorf("%w: unexpected scheme %q", core.ErrMalformedChallenge, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing callback host", core.ErrMalformedChallenge)
	}

	nonce := u.Query().Get(nonceParam)
	if nonce == "" {
		return nil, fmt.Errorf("%w: missing nonce", core.ErrMalformedChallenge)
	}
	if _, err := hex.DecodeString(nonce); err != nil {
		return nil, fmt.Errorf("%w: nonce is not hex", core.ErrMalformedChallenge)
	}

	return u, nil
}
