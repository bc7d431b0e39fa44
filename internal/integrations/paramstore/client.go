package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

// ssmAPI is the subset of *ssm.Client the relay calls.
type ssmAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	GetParameters(ctx context.Context, in *ssm.GetParametersInput, optFns ...func(*ssm.Options)) (*ssm.GetParametersOutput, error)
}

// Getter is what the WhatsApp and OpenAI clients read their tokens through.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client reads decrypted SSM parameters and keeps them for the life of the
// process, so a warm Lambda container pays for each secret once.
type Client struct {
	api ssmAPI

	mu    sync.RWMutex
	cache map[string]string
}

func New(api ssmAPI) (*Client, error) {
	if api == nil {
		return nil, errors.New("paramstore: api must not be nil")
	}
	return &Client{api: api, cache: make(map[string]string)}, nil
}

func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.api == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: name is required")
	}
	if v, ok := c.cached(name); ok {
		return v, nil
	}

	out, err := c.api.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: decrypt(),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: parameter %q missing value", name)
	}
	c.remember(name, *out.Parameter.Value)
	return *out.Parameter.Value, nil
}

// Prefetch loads names in one GetParameters call. Names SSM reports as
// invalid are returned in the error; the others are still cached.
func (c *Client) Prefetch(ctx context.Context, names ...string) error {
	if c.api == nil {
		return errors.New("paramstore: client not initialized")
	}
	if len(names) == 0 {
		return nil
	}
	out, err := c.api.GetParameters(ctx, &ssm.GetParametersInput{
		Names:          names,
		WithDecryption: decrypt(),
	})
	if err != nil {
		return fmt.Errorf("paramstore: get parameters: %w", err)
	}
	for _, p := range out.Parameters {
		if p.Name == nil || p.Value == nil {
			continue
		}
		c.remember(*p.Name, *p.Value)
	}
	if len(out.InvalidParameters) > 0 {
		return fmt.Errorf("paramstore: invalid parameters: %s", strings.Join(out.InvalidParameters, ", "))
	}
	return nil
}

func (c *Client) cached(name string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.cache[name]
	return v, ok
}

func (c *Client) remember(name, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cache == nil {
		c.cache = make(map[string]string)
	}
	c.cache[name] = value
}

func decrypt() *bool {
	v := true
	return &v
}
