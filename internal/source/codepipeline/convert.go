package codepipeline

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/codepipeline/types"

	"github.com/awslabs/aws-codepipeline-custom-job-worker/internal/worker/domain"
)

func toActionTypeID(a domain.ActionType) *types.ActionTypeId {
	return &types.ActionTypeId{
		Category: types.ActionCategory(a.Category),
		Owner:    types.ActionOwner(a.Owner),
		Provider: aws.String(a.Provider),
		Version:  aws.String(a.Version),
	}
}

func toJob(jobID, nonce, clientID string, data *types.JobData) *domain.Job {
	job := &domain.Job{ID: jobID, Nonce: nonce, ClientID: clientID}
	if data == nil {
		return job
	}

	job.Data = domain.JobData{
		InputArtifacts:      toArtifacts(data.InputArtifacts),
		OutputArtifacts:     toArtifacts(data.OutputArtifacts),
		ArtifactCredentials: toCredentials(data.ArtifactCredentials),
		ContinuationToken:   aws.ToString(data.ContinuationToken),
		EncryptionKey:       toEncryptionKey(data.EncryptionKey),
	}
	if data.ActionConfiguration != nil {
		job.Data.ActionConfiguration = data.ActionConfiguration.Configuration
	}
	return job
}

// thirdPartyJobData shares its shape with JobData
func thirdPartyJobData(data *types.ThirdPartyJobData) *types.JobData {
	if data == nil {
		return nil
	}
	return &types.JobData{
		ActionConfiguration: data.ActionConfiguration,
		ActionTypeId:        data.ActionTypeId,
		ArtifactCredentials: data.ArtifactCredentials,
		ContinuationToken:   data.ContinuationToken,
		EncryptionKey:       data.EncryptionKey,
		InputArtifacts:      data.InputArtifacts,
		OutputArtifacts:     data.OutputArtifacts,
	}
}

func toArtifacts(in []types.Artifact) []domain.Artifact {
	if len(in) == 0 {
		return nil
	}
	out := make([]domain.Artifact, 0, len(in))
	for _, a := range in {
		artifact := domain.Artifact{
			Name:     aws.ToString(a.Name),
			Revision: aws.ToString(a.Revision),
		}
		if a.Location != nil && a.Location.S3Location != nil {
			artifact.S3BucketName = aws.ToString(a.Location.S3Location.BucketName)
			artifact.S3ObjectKey = aws.ToString(a.Location.S3Location.ObjectKey)
		}
		out = append(out, artifact)
	}
	return out
}

func toCredentials(c *types.AWSSessionCredentials) *domain.AWSSessionCredentials {
	if c == nil {
		return nil
	}
	return &domain.AWSSessionCredentials{
		AccessKeyID:     aws.ToString(c.AccessKeyId),
		SecretAccessKey: aws.ToString(c.SecretAccessKey),
		SessionToken:    aws.ToString(c.SessionToken),
	}
}

func toEncryptionKey(k *types.EncryptionKey) *domain.EncryptionKey {
	if k == nil {
		return nil
	}
	return &domain.EncryptionKey{ID: aws.ToString(k.Id), Type: string(k.Type)}
}

func fromExecutionDetails(d *domain.ExecutionDetails) *types.ExecutionDetails {
	if d == nil {
		return nil
	}
	return &types.ExecutionDetails{
		Summary:             optionalString(d.Summary),
		ExternalExecutionId: optionalString(d.ExternalExecutionID),
		PercentComplete:     aws.Int32(int32(d.PercentComplete)),
	}
}

func fromCurrentRevision(r *domain.CurrentRevision) *types.CurrentRevision {
	if r == nil {
		return nil
	}
	return &types.CurrentRevision{
		Revision:         aws.String(r.Revision),
		ChangeIdentifier: aws.String(r.ChangeIdentifier),
	}
}

func fromFailureDetails(f domain.FailureDetails) *types.FailureDetails {
	return &types.FailureDetails{
		Type:    types.FailureType(f.Type),
		Message: aws.String(f.Message),
	}
}

// optionalString maps "" to an unset field
func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return aws.String(s)
}
