package database

import (
	"context"
	"database/sql"
	"fmt"
)

// Step 事务中的一个变更步骤
// 步骤应当是幂等的：整个事务失败后调用方可以安全重试
type Step func(ctx context.Context, tx *sql.Tx) error

// NamedStep 带名称的步骤（用于错误信息定位）
type NamedStep struct {
	Name string
	Run  Step
}

// StepError 某个步骤失败（事务已回滚）
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// RunInTx 在同一个事务中依次执行所有步骤
// 任一步骤出错时回滚全部步骤，返回的错误包装了底层数据库错误
func RunInTx(ctx context.Context, db *sql.DB, steps ...NamedStep) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, step := range steps {
		if err := step.Run(ctx, tx); err != nil {
			return &StepError{Step: step.Name, Err: err}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
