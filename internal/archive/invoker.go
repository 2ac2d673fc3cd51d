package archive

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/lambda/types"
)

// LambdaInvoker invokes the archive worker Lambda function.
type LambdaInvoker struct {
	Client       *lambda.Client
	FunctionName string
}

var _ Invoker = (*LambdaInvoker)(nil)

func (l *LambdaInvoker) InvokeSync(ctx context.Context, payload []byte) ([]byte, error) {
	result, err := l.Client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName: &l.FunctionName,
		Payload:      payload,
	})
	if err != nil {
		return nil, fmt.Errorf("invoking %s: %w", l.FunctionName, err)
	}
	if result.FunctionError != nil {
		return nil, fmt.Errorf("%s returned function error: %s", l.FunctionName, *result.FunctionError)
	}
	return result.Payload, nil
}

func (l *LambdaInvoker) InvokeAsync(ctx context.Context, payload []byte) error {
	_, err := l.Client.Invoke(ctx, &lambda.InvokeInput{
		FunctionName:   &l.FunctionName,
		InvocationType: types.InvocationTypeEvent,
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("invoking %s async: %w", l.FunctionName, err)
	}
	return nil
}
