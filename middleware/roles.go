package middleware

import (
	"net/http"

	fileGate "github.com/MrEthical07/fileGate"
)

func RequireRole(resolver SessionResolver, role fileGate.Role) func(http.Handler) http.Handler {
	return Guard(resolver, role)
}

func RequireAdmin(resolver SessionResolver) func(http.Handler) http.Handler {
	return Guard(resolver, fileGate.RoleAdmin)
}

func RequireCustomer(resolver SessionResolver) func(http.Handler) http.Handler {
	return Guard(resolver, fileGate.RoleCustomer)
}
