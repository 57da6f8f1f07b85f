package aws

import (
	"context"
	"errors"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsManager struct {
	values map[string]string
	calls  int
}

func (f *fakeSecretsManager) GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	v, ok := f.values[sdkaws.ToString(params.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: sdkaws.String(v)}, nil
}

func TestSecretsClient_CachesValues(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{
		"abandonment/DB_CREDENTIALS": `{"POSTGRES_USER":"svc","POSTGRES_PASSWORD":"pw"}`,
	}}
	sc := newSecretsClient(fake)

	values, err := sc.GetSecretValues(context.Background(), "abandonment/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, "svc", values["POSTGRES_USER"])

	_, err = sc.GetSecret(context.Background(), "abandonment/DB_CREDENTIALS")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.calls)
}

func TestSecretsClient_Errors(t *testing.T) {
	fake := &fakeSecretsManager{values: map[string]string{"abandonment/API_KEYS": "not json"}}
	sc := newSecretsClient(fake)

	_, err := sc.GetSecretValues(context.Background(), "abandonment/API_KEYS")
	assert.ErrorContains(t, err, "not a JSON object")

	_, err = sc.GetSecret(context.Background(), "missing")
	assert.ErrorContains(t, err, "failed to get secret missing")
}
