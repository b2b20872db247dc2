// 包 fence：围栏生命周期服务层，编排校验、存储、重叠检测与缓存失效
package fence

import "errors"

var (
	// ErrNotFound：围栏不存在或已被软删除
	ErrNotFound = errors.New("fence not found")
	// ErrInvalidName：名称为空或超长
	ErrInvalidName = errors.New("fence name must be 1-100 characters")
	// ErrInsufficientInputs：合并至少需要两个源围栏
	ErrInsufficientInputs = errors.New("at least 2 fences required")
	// ErrTooManyInputs：合并源围栏数超出上限
	ErrTooManyInputs = errors.New("too many fences for one merge")
	// ErrMergeFailed：源围栏无法并成单一多边形
	ErrMergeFailed = errors.New("fences cannot be merged into a single polygon")
	// ErrSplitFailed：分割线未把围栏切成至少两个部分
	ErrSplitFailed = errors.New("split line does not divide the fence")
)
