package kafka

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/aws/aws-msk-iam-sasl-signer-go/signer"
)

func newMSKTokenProvider(region string) sarama.AccessTokenProvider {
	return &MSKAccessTokenProvider{region: region}
}

// MSKAccessTokenProvider signs SASL OAUTHBEARER tokens for AWS MSK IAM.
type MSKAccessTokenProvider struct {
	region string
}

// Token implements sarama.AccessTokenProvider.
func (m *MSKAccessTokenProvider) Token() (*sarama.AccessToken, error) {
	token, _, err := signer.GenerateAuthToken(context.Background(), m.region)
	if err != nil {
		return nil, fmt.Errorf("failed to generate MSK auth token: %w", err)
	}
	return &sarama.AccessToken{Token: token}, nil
}
