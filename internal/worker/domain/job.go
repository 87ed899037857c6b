package domain

import "fmt"

// Job is a unit of work handed out by a JobSource. It is immutable after poll.
type Job struct {
	ID       string
	Nonce    string
	ClientID string
	Data     JobData
}

// JobData carries everything the processor needs to perform a job
type JobData struct {
	ActionConfiguration map[string]string
	InputArtifacts      []Artifact
	OutputArtifacts     []Artifact
	ArtifactCredentials *AWSSessionCredentials
	ContinuationToken   string
	EncryptionKey       *EncryptionKey
}

// Artifact locates a pipeline artifact in S3
type Artifact struct {
	Name         string `json:"name"`
	Revision     string `json:"revision,omitempty"`
	S3BucketName string `json:"s3_bucket_name,omitempty"`
	S3ObjectKey  string `json:"s3_object_key,omitempty"`
}

// AWSSessionCredentials are temporary credentials for reading and writing artifacts
type AWSSessionCredentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
}

// String keeps the secret parts out of logs.
func (c AWSSessionCredentials) String() string {
	return fmt.Sprintf("AWSSessionCredentials{AccessKeyID: %s, SecretAccessKey: ****, SessionToken: ****}", c.AccessKeyID)
}

// EncryptionKey identifies the key used to encrypt the artifact store
type EncryptionKey struct {
	ID   string
	Type string
}

// ActionType identifies the custom action a worker polls jobs for
type ActionType struct {
	Category string `yaml:"category" validate:"required"`
	Owner    string `yaml:"owner" validate:"required"`
	Provider string `yaml:"provider" validate:"required"`
	Version  string `yaml:"version" validate:"required"`
}

// Validate checks every field of the action type is set
func (a ActionType) Validate() error {
	if a.Category == "" || a.Owner == "" || a.Provider == "" || a.Version == "" {
		return fmt.Errorf("%w: %s", ErrInvalidActionType, a)
	}
	return nil
}

func (a ActionType) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", a.Category, a.Owner, a.Provider, a.Version)
}

// Default action types used when none is configured
var (
	DefaultCustomActionType = ActionType{
		Category: "Deploy",
		Owner:    "Custom",
		Provider: "MyCustomAction",
		Version:  "1",
	}
	DefaultThirdPartyActionType = ActionType{
		Category: "Deploy",
		Owner:    "ThirdParty",
		Provider: "ThirdPartyDeployProvider",
		Version:  "1",
	}
)
