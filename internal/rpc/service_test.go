package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServiceDesc(t *testing.T) {
	assert.Equal(t, ServiceName, ServiceDesc.ServiceName)

	methods := make(map[string]bool)
	for _, m := range ServiceDesc.Methods {
		methods["/"+ServiceName+"/"+m.MethodName] = true
		assert.NotNil(t, m.Handler, m.MethodName)
	}
	assert.Equal(t, map[string]bool{
		MethodRequestWork:      true,
		MethodRefreshHeartbeat: true,
		MethodReportCompletion: true,
	}, methods)
}
