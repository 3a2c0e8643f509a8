// Copyright 2025 Longopass
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gateway

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecretsClient struct {
	value *string
	err   error
}

func (f *fakeSecretsClient) GetSecretValue(_ context.Context, _ *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: f.value}, nil
}

func TestFetchAPIKeyFromClient(t *testing.T) {
	arn := "arn:aws:secretsmanager:eu-central-1:123456789012:secret:openrouter-abc123"

	t.Run("json secret with api_key field", func(t *testing.T) {
		client := &fakeSecretsClient{value: aws.String(`{"api_key":"sk-or-test"}`)}

		key, err := fetchAPIKeyFromClient(context.Background(), client, arn)
		require.NoError(t, err)
		assert.Equal(t, "sk-or-test", key)
	})

	t.Run("plain string secret", func(t *testing.T) {
		client := &fakeSecretsClient{value: aws.String("sk-or-plain")}

		key, err := fetchAPIKeyFromClient(context.Background(), client, arn)
		require.NoError(t, err)
		assert.Equal(t, "sk-or-plain", key)
	})

	t.Run("json secret without api_key", func(t *testing.T) {
		client := &fakeSecretsClient{value: aws.String(`{"other":"value"}`)}

		_, err := fetchAPIKeyFromClient(context.Background(), client, arn)
		assert.Error(t, err)
	})

	t.Run("missing string value", func(t *testing.T) {
		client := &fakeSecretsClient{}

		_, err := fetchAPIKeyFromClient(context.Background(), client, arn)
		assert.Error(t, err)
	})

	t.Run("aws error masks the arn", func(t *testing.T) {
		client := &fakeSecretsClient{err: fmt.Errorf("access denied")}

		_, err := fetchAPIKeyFromClient(context.Background(), client, arn)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "123456789012")
		assert.Contains(t, err.Error(), "...")
	})
}

func TestMaskARN(t *testing.T) {
	assert.Equal(t, "***", maskARN("short"))
	assert.Equal(t, "...r-abc123", maskARN("arn:aws:secretsmanager:secret:openrouter-abc123"))
}
