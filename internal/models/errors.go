package models

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	ErrNotFound       = status.Errorf(codes.NotFound, "not found")
	ErrUnauthorized   = status.Errorf(codes.PermissionDenied, "unauthorized")
	ErrAlreadyPending = status.Errorf(codes.AlreadyExists, "mutation already pending")
)
