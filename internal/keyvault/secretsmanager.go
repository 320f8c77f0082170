package keyvault

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager/types"
	"github.com/rs/zerolog"

	"github.com/snarg/vox-engine/internal/fault"
)

// SecretsManagerVault stores one secret per user in AWS Secrets Manager,
// named {prefix}/{user_id}, value base64 of the raw 32 bytes.
type SecretsManagerVault struct {
	client *secretsmanager.Client
	prefix string
	log    zerolog.Logger
}

// NewSecretsManagerVault creates a vault backed by AWS Secrets Manager.
func NewSecretsManagerVault(ctx context.Context, region, prefix string, log zerolog.Logger) (*SecretsManagerVault, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &SecretsManagerVault{
		client: secretsmanager.NewFromConfig(awsCfg),
		prefix: prefix,
		log:    log.With().Str("component", "keyvault").Logger(),
	}, nil
}

func (v *SecretsManagerVault) secretName(userID string) string {
	return v.prefix + "/" + userID
}

func (v *SecretsManagerVault) GetKey(ctx context.Context, userID string) ([]byte, error) {
	name := v.secretName(userID)
	out, err := v.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: &name,
	})
	if err != nil {
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			return nil, fault.New(fault.NotFound, "no key provisioned for user")
		}
		return nil, fault.Errorf(fault.Unavailable, err, "key vault fetch")
	}
	if out.SecretString == nil {
		return nil, fault.New(fault.Unavailable, "key vault returned empty secret")
	}
	key, err := base64.StdEncoding.DecodeString(*out.SecretString)
	if err != nil {
		return nil, fault.Errorf(fault.Unavailable, err, "decode stored key")
	}
	return validateKey(key)
}

func (v *SecretsManagerVault) CreateKey(ctx context.Context, userID string) error {
	key, err := newKey()
	if err != nil {
		return err
	}
	name := v.secretName(userID)
	value := base64.StdEncoding.EncodeToString(key)
	_, err = v.client.CreateSecret(ctx, &secretsmanager.CreateSecretInput{
		Name:         &name,
		SecretString: &value,
	})
	if err != nil {
		var exists *types.ResourceExistsException
		if errors.As(err, &exists) {
			return fault.New(fault.Conflict, "key already provisioned for user")
		}
		return fault.Errorf(fault.Unavailable, err, "key vault create")
	}
	v.log.Info().Str("user_id", userID).Msg("user key provisioned")
	return nil
}
