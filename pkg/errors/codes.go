package errors

// 流水线错误码。4xxxx 为请求侧错误，5xxxx 为下游协作方错误。
const (
	CodeInvalidRequest  = 40001
	CodeUnauthenticated = 40101

	// 入库前半程（Intake）
	CodeStorageRead              = 50001
	CodeProviderUpload           = 50002
	CodeProviderProcessingFailed = 50003
	CodeMetadataPersist          = 50004
	CodeQueueEnqueue             = 50005

	// 生成后半程（Worker）
	CodeDocumentNotFound       = 50101
	CodeMissingRemoteReference = 50102
	CodeGeneration             = 50103
	CodeScriptPersist          = 50104
)

// HTTPStatus 将错误码映射到 HTTP 状态码
func HTTPStatus(code int) int {
	switch code {
	case CodeInvalidRequest:
		return 400
	case CodeUnauthenticated:
		return 401
	case 0:
		return 500
	default:
		return 500
	}
}

// IsCode 判断错误链上是否携带指定错误码
func IsCode(err error, code int) bool {
	return GetCode(err) == code
}
