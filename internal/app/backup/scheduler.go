package backup

import (
	"context"
	"fmt"
	"time"
)

// Agent job retry policy, fixed at creation time.
const (
	jobRetryAttempts = 3
	jobRetryInterval = 1 // minutes
)

// Scheduler establishes a recurring log backup cadence on the source side
// via a SQL Agent job. The job keeps running after this process exits; its
// lifecycle belongs to the operator from then on.
type Scheduler struct {
	exec StatementExecutor
}

// NewScheduler creates a scheduler over the given executor.
func NewScheduler(exec StatementExecutor) *Scheduler {
	return &Scheduler{exec: exec}
}

// JobName derives the agent job name for a database.
func JobName(database string) string {
	return "sqlferry-logship-" + database
}

// EnsureAgentJob creates the recurring log backup job if it does not exist
// yet and returns its name. An existing job is left untouched. The job step
// substitutes the timestamp at execution time so every run produces a
// uniquely named artifact, and retries are configured on the step itself.
func (s *Scheduler) EnsureAgentJob(ctx context.Context, database, containerURL string, interval time.Duration) (string, error) {
	minutes := int(interval / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	jobName := JobName(database)

	// The backup command builds the blob name when the step runs, not when
	// the schedule is defined.
	stepCommand := fmt.Sprintf(
		`DECLARE @url NVARCHAR(512) = N''%[1]s/%[2]s_LOG_'' + FORMAT(GETUTCDATE(), ''yyyyMMdd_HHmmss'') + N''.trn''; BACKUP LOG [%[2]s] TO URL = @url WITH CHECKSUM;`,
		containerURL, database)

	stmt := fmt.Sprintf(`IF NOT EXISTS (SELECT 1 FROM msdb.dbo.sysjobs WHERE name = N'%[1]s')
BEGIN
    EXEC msdb.dbo.sp_add_job @job_name = N'%[1]s', @enabled = 1;
    EXEC msdb.dbo.sp_add_jobstep @job_name = N'%[1]s', @step_name = N'log backup to url',
        @subsystem = N'TSQL', @database_name = N'%[2]s',
        @command = N'%[3]s',
        @retry_attempts = %[4]d, @retry_interval = %[5]d;
    EXEC msdb.dbo.sp_add_schedule @schedule_name = N'%[1]s-schedule',
        @freq_type = 4, @freq_interval = 1,
        @freq_subday_type = 4, @freq_subday_interval = %[6]d;
    EXEC msdb.dbo.sp_attach_schedule @job_name = N'%[1]s', @schedule_name = N'%[1]s-schedule';
    EXEC msdb.dbo.sp_add_jobserver @job_name = N'%[1]s';
END`,
		jobName, database, stepCommand, jobRetryAttempts, jobRetryInterval, minutes)

	if err := s.exec.Exec(ctx, stmt, credentialTimeout); err != nil {
		return "", fmt.Errorf("creating log backup job %s: %w", jobName, err)
	}
	return jobName, nil
}
