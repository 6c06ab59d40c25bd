package auth

import (
	"net/http"
	"strings"

	"rpcguard/internal/domain"
	"rpcguard/internal/support"
)

const adminWalletHeader = "X-Admin-Wallet"

// AdminWallet returns the configured administrator wallet, normalized.
func AdminWallet() string {
	raw := support.GetEnv("ADMIN_WALLET", "")
	if raw == "" {
		return ""
	}
	wallet, err := domain.NormalizeWallet(raw)
	if err != nil {
		return ""
	}
	return wallet
}

// IsAdminWallet implements the shared-secret style check: the supplied
// wallet must equal the configured admin address.
func IsAdminWallet(raw string) bool {
	admin := AdminWallet()
	if admin == "" {
		return false
	}
	wallet, err := domain.NormalizeWallet(raw)
	if err != nil {
		return false
	}
	return wallet == admin
}

// RequireAdmin guards the admin surface. It accepts either a session token
// from the login endpoint or the admin wallet supplied directly in a
// header, so both the dashboard and curl-style tooling work.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wallet := r.Header.Get(adminWalletHeader); wallet != "" {
			if IsAdminWallet(wallet) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		claims, err := ValidateJWT(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if claims["role"] != "admin" {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}
