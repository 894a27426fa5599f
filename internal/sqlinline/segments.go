package sqlinline

const QSelectSegments = `--sql a71aeeb2-fe33-4dc2-9602-170c26d25d26
select id::text, position, prompt, dialogue, start_image, start_image_mime, start_image_name,
       aspect_ratio, modality, chain_from_previous, status,
       result_key, result_mime, result_size, result_backend, error_message, updated_at
from segments
order by position asc, created_at asc;
`

const QSelectSegment = `--sql bfa3403e-8bfb-4979-a8df-cf865d6d06a2
select id::text, position, prompt, dialogue, start_image, start_image_mime, start_image_name,
       aspect_ratio, modality, chain_from_previous, status,
       result_key, result_mime, result_size, result_backend, error_message, updated_at
from segments
where id = $1::uuid;
`

const QInsertSegment = `--sql cc309172-e4e7-4c9b-853e-b79aaaae77a6
insert into segments (
    id, position, prompt, dialogue, start_image, start_image_mime, start_image_name,
    aspect_ratio, modality, chain_from_previous, status, error_message, created_at, updated_at
)
values (
    $1::uuid,
    coalesce($2::int, (select coalesce(max(position) + 1, 0) from segments)),
    $3::text, $4::text, $5::bytea, $6::text, $7::text,
    $8::text, $9::text, $10::boolean, 'idle', '', now(), now()
)
returning position, updated_at;
`

// QUpdateSegmentFields applies user edits. Generating segments are skipped so
// a concurrent run keeps exclusive ownership of them.
const QUpdateSegmentFields = `--sql e29a58b7-0e55-4414-8804-7c7b1b45a553
update segments
set prompt = $2::text,
    dialogue = $3::text,
    start_image = $4::bytea,
    start_image_mime = $5::text,
    start_image_name = $6::text,
    aspect_ratio = $7::text,
    modality = $8::text,
    chain_from_previous = $9::boolean,
    updated_at = now()
where id = $1::uuid
  and status <> 'generating';
`

const QDeleteSegment = `--sql 84043497-5261-4fd3-94c3-524bc409286e
delete from segments
where id = $1::uuid
  and status <> 'generating'
returning result_key, result_mime, result_size, result_backend;
`

const QCompactSegmentPositions = `--sql 05e78d01-a50b-4f5d-b1ca-b63b8bd38eac
with ordered as (
    select id, row_number() over (order by position asc, created_at asc) - 1 as new_position
    from segments
)
update segments s
set position = o.new_position
from ordered o
where s.id = o.id
  and s.position <> o.new_position;
`

const QSelectSegmentPositionForUpdate = `--sql 1a29a8b0-c399-46c5-b7fe-614ba733db18
select position, status, (select count(*) from segments)::int
from segments
where id = $1::uuid
for update;
`

const QShiftSegmentsForMove = `--sql 38d9e80f-06b4-4d6a-bbd0-2c2964810fd4
update segments
set position = case
        when $2::int < $3::int then position - 1
        else position + 1
    end
where id <> $1::uuid
  and position between least($2::int, $3::int) and greatest($2::int, $3::int);
`

const QSetSegmentPosition = `--sql d7d5932b-b4f5-4033-b99d-4ab938e29b4a
update segments
set position = $2::int, updated_at = now()
where id = $1::uuid;
`

const QCountGeneratingSegments = `--sql abfd735a-2b3c-46f0-b9e1-f616a121fbb9
select count(*)::int
from segments
where status = 'generating';
`

// QCountActiveRuns guards deletes and imports: a queued or running run owns
// the handles of the segments it has loaded.
const QCountActiveRuns = `--sql 3c8f5d21-7a4e-4b9c-9e12-6d0b8a7f4c53
select count(*)::int
from generation_runs
where status in ('queued', 'running');
`

const QDeleteAllSegments = `--sql 4b0b6377-eb9b-4b11-84af-a049321d7081
delete from segments
returning result_key, result_mime, result_size, result_backend;
`

// QSaveSegmentState is the orchestrator's write-through of status and result.
const QSaveSegmentState = `--sql fe36db3f-487a-44c9-b383-78a92c0b4833
update segments
set status = $2::text,
    result_key = $3::text,
    result_mime = $4::text,
    result_size = $5::bigint,
    result_backend = $6::text,
    error_message = $7::text,
    updated_at = now()
where id = $1::uuid;
`

const QResetGeneratingSegments = `--sql 5a76e9a4-a940-4358-be60-261bbd13457d
update segments
set status = 'error',
    error_message = $1::text,
    updated_at = now()
where status = 'generating';
`
