package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/session-market/backend/internal/auth"
	"github.com/session-market/backend/internal/config"
	"github.com/session-market/backend/internal/http/dto"
	"github.com/session-market/backend/internal/ton"
	"go.uber.org/zap"
)

const proofNonceKeyPrefix = "auth:proof-payload:"

type AuthHandler struct {
	cfg *config.Config
	rdb *redis.Client
	log *zap.Logger
}

func NewAuthHandler(cfg *config.Config, rdb *redis.Client, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, rdb: rdb, log: log}
}

// ProofPayload issues a nonce for the TON Connect ton_proof flow. The
// wallet signs it and the signature comes back via IssueToken.
func (h *AuthHandler) ProofPayload(c *fiber.Ctx) error {
	nonce := uuid.New().String()
	if err := h.rdb.Set(c.Context(), proofNonceKeyPrefix+nonce, "1", ton.MaxProofAge).Err(); err != nil {
		h.log.Error("failed to store proof payload", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(fiber.Map{"payload": nonce, "expires_in": int(ton.MaxProofAge / time.Second)})
}

// IssueToken binds a settlement identity to a role. Operator tokens are
// only issued to identities listed in OPERATOR_IDENTITIES. When wallet
// proof is required, the caller must present a valid ton_proof over a
// nonce from ProofPayload.
func (h *AuthHandler) IssueToken(c *fiber.Ctx) error {
	var req dto.AuthTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Identity == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "identity is required"})
	}

	switch req.Role {
	case auth.RoleClient, auth.RoleProvider:
	case auth.RoleOperator:
		if !h.cfg.IsOperator(req.Identity) {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "identity is not a registered operator"})
		}
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "role must be client, provider or operator"})
	}

	if h.cfg.RequireWalletProof {
		if err := h.verifyWalletProof(c, req); err != nil {
			return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: err.Error()})
		}
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, req.Identity, req.Role, h.cfg.JWTExpiration)
	if err != nil {
		h.log.Error("token generation failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token})
}

func (h *AuthHandler) verifyWalletProof(c *fiber.Ctx, req dto.AuthTokenRequest) error {
	if req.Proof == nil || req.RawAddress == "" || req.PublicKey == "" {
		return fiber.NewError(fiber.StatusForbidden, "wallet proof is required")
	}

	// Consume the nonce first so a captured proof cannot be replayed.
	deleted, err := h.rdb.Del(c.Context(), proofNonceKeyPrefix+req.Proof.Payload).Result()
	if err != nil {
		h.log.Error("failed to consume proof payload", zap.Error(err))
		return fiber.NewError(fiber.StatusForbidden, "proof verification failed")
	}
	if deleted == 0 {
		return fiber.NewError(fiber.StatusForbidden, "invalid or expired proof payload")
	}

	workchain, addrHash, err := ton.ParseRawAddress(req.RawAddress)
	if err != nil {
		return fiber.NewError(fiber.StatusForbidden, "invalid wallet address")
	}

	if err := ton.VerifyProof(req.PublicKey, addrHash, workchain, *req.Proof, h.cfg.TONProofAllowedDomains); err != nil {
		h.log.Debug("wallet proof rejected", zap.Error(err))
		return fiber.NewError(fiber.StatusForbidden, "wallet proof verification failed")
	}

	return nil
}
