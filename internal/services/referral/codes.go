package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/gosimple/slug"
	"github.com/revaspay/referrals/internal/apperrors"
	"github.com/revaspay/referrals/internal/config"
	"github.com/revaspay/referrals/internal/models"
	"github.com/revaspay/referrals/internal/retry"
	"go.uber.org/zap"
)

const (
	codeCharset       = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	codePrefixLength  = 6
	codeSuffixLength  = 6
	maxCodeCollisions = 5
)

// CodeGenerator assigns each user a stable referral code
type CodeGenerator struct {
	users   UserDirectory
	program config.ProgramConfig
	log     *zap.Logger
	random  func(n int) (string, error)
}

// NewCodeGenerator creates a new code generator
func NewCodeGenerator(users UserDirectory, program config.ProgramConfig, log *zap.Logger) *CodeGenerator {
	return &CodeGenerator{users: users, program: program, log: log, random: randomCode}
}

// Generate returns the user's referral code, creating one on first use
func (g *CodeGenerator) Generate(ctx context.Context, userID string) (string, error) {
	var user *models.User
	err := retry.Do(ctx, g.program.Retry, g.log, "get_user", func(ctx context.Context) error {
		var getErr error
		user, getErr = g.users.GetUser(ctx, userID)
		return getErr
	})
	if err != nil {
		return "", err
	}
	if user.ReferralCode != nil && *user.ReferralCode != "" {
		return *user.ReferralCode, nil
	}

	prefix := codePrefix(userID)
	for i := 0; i < maxCodeCollisions; i++ {
		suffix, err := g.random(codeSuffixLength)
		if err != nil {
			return "", fmt.Errorf("error generating referral code: %w", err)
		}
		code := "REF" + prefix + suffix

		err = retry.Do(ctx, g.program.Retry, g.log, "set_referral_code", func(ctx context.Context) error {
			return g.users.SetReferralCode(ctx, userID, code)
		})
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			g.log.Debug("referral code collision", zap.String("code", code))
			if current, getErr := g.users.GetUser(ctx, userID); getErr == nil &&
				current.ReferralCode != nil && *current.ReferralCode != "" {
				return *current.ReferralCode, nil
			}
			continue
		}
		if err != nil {
			return "", err
		}
		return code, nil
	}

	return "", fmt.Errorf("could not allocate a unique referral code after %d attempts", maxCodeCollisions)
}

// codePrefix derives a readable prefix from the user id
func codePrefix(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(slug.Make(userID)) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			if b.Len() == codePrefixLength {
				break
			}
		}
	}
	for b.Len() < codePrefixLength {
		b.WriteByte('X')
	}
	return b.String()
}

func randomCode(n int) (string, error) {
	code := make([]byte, n)
	max := big.NewInt(int64(len(codeCharset)))
	for i := range code {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = codeCharset[idx.Int64()]
	}
	return string(code), nil
}
