package sqlinline

// QEnsureSchema creates the tables the service needs. It runs without
// arguments so it may contain several statements.
const QEnsureSchema = `--sql 0e7faa47-cc42-4d65-8631-97066a53ead9
create table if not exists integration_tokens (
    id uuid primary key,
    provider text not null unique,
    token text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create table if not exists segments (
    id uuid primary key,
    position integer not null,
    prompt text not null default '',
    dialogue text not null default '',
    start_image bytea,
    start_image_mime text,
    start_image_name text,
    aspect_ratio text not null default '16:9',
    modality text not null default 'video',
    chain_from_previous boolean not null default false,
    status text not null default 'idle',
    result_key text,
    result_mime text,
    result_size bigint,
    result_backend text,
    error_message text not null default '',
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create index if not exists segments_position_idx on segments (position);

create table if not exists generation_runs (
    id uuid primary key,
    mode text not null default 'all',
    status text not null,
    total integer not null default 0,
    completed integer not null default 0,
    message text not null default '',
    cancel_requested boolean not null default false,
    outcome_json jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);

create unique index if not exists generation_runs_single_active
    on generation_runs ((true))
    where status in ('queued', 'running');
`
