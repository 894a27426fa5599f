package sqlinline

const QInsertRun = `--sql d4496f24-fcb0-44a7-aefd-3e2f5eb70781
insert into generation_runs (id, mode, status, total, completed, message, created_at, updated_at)
values ($1::uuid, $2::text, 'queued', $3::int, 0, 'Queued', now(), now())
returning created_at, updated_at;
`

// QClaimRun follows the worker claim pattern: lock the oldest queued row and
// flip it to running in one statement.
const QClaimRun = `--sql 9295cb5b-223d-41b8-8eda-702586e246a7
with next_run as (
    select id
    from generation_runs
    where status = 'queued'
    order by created_at asc
    for update skip locked
    limit 1
),
updated as (
    update generation_runs
    set status = 'running', message = 'Initializing...', updated_at = now()
    where id in (select id from next_run)
    returning id::text, mode, status, total, completed, message, cancel_requested, outcome_json, created_at, updated_at
)
select * from updated;
`

const QSelectRun = `--sql 1a56096d-feaf-418d-ae77-5bcacab82c88
select id::text, mode, status, total, completed, message, cancel_requested, outcome_json, created_at, updated_at
from generation_runs
where id = $1::uuid;
`

const QSelectActiveRun = `--sql e9a03c86-8d1d-4ad3-abb5-7fc61b2141aa
select id::text, mode, status, total, completed, message, cancel_requested, outcome_json, created_at, updated_at
from generation_runs
where status in ('queued', 'running')
order by created_at asc
limit 1;
`

const QUpdateRunProgress = `--sql a3765cba-40fd-4323-a96a-7653e7bfc87a
update generation_runs
set completed = greatest(completed, $2::int),
    total = $3::int,
    message = $4::text,
    updated_at = now()
where id = $1::uuid;
`

const QFinishRun = `--sql a8525e4c-abb4-482a-b7f2-ae256a968b05
update generation_runs
set status = $2::text,
    message = $3::text,
    outcome_json = $4::jsonb,
    completed = coalesce(($4::jsonb ->> 'completed')::int, completed),
    updated_at = now()
where id = $1::uuid;
`

// QRequestRunCancel cancels queued runs outright and flags running ones for
// the worker to stop between segments.
const QRequestRunCancel = `--sql af864ce6-b991-4701-8ea7-59fd7d54f4f1
update generation_runs
set cancel_requested = true,
    status = case when status = 'queued' then 'canceled' else status end,
    message = case when status = 'queued' then 'Canceled before start.' else message end,
    updated_at = now()
where id = $1::uuid
  and status in ('queued', 'running')
returning status;
`

const QSelectRunCancelRequested = `--sql eaf1b873-bc68-4671-adb7-068fa69338b3
select cancel_requested
from generation_runs
where id = $1::uuid;
`

const QFailInterruptedRuns = `--sql cf869190-dff0-478a-9864-f267fac823dd
update generation_runs
set status = 'failed',
    message = $1::text,
    updated_at = now()
where status = 'running';
`
