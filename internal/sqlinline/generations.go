package sqlinline

// generationColumns is shared by every query that scans a full generation row.
const generationColumns = `id::text, person_id, coalesce(user_id, ''), coalesce(team_id, ''), status,
    credit_source, credit_cost, selfie_keys, style_settings, coalesce(package_id, ''),
    workflow_version, attempts, progress, coalesce(final_image_key, ''),
    coalesce(failure_reason, ''), feedback, cancel_requested,
    coalesce(debit_transaction_id::text, ''), created_at, updated_at`

const QSelectGeneration = `--sql c882de6d-176d-42a3-a574-20f845b2b17d
select ` + generationColumns + `
from generations
where id = $1::uuid;
`

const QClaimNextGeneration = `--sql 485644ba-4213-4e43-9da1-a782f013fc87
with next_generation as (
    select id
    from generations
    where status = 'queued'
      and cancel_requested = false
    order by created_at asc
    for update skip locked
    limit 1
)
update generations
set status = 'running', progress = 'claimed', updated_at = now()
where id in (select id from next_generation)
returning ` + generationColumns + `;
`

const QClaimGenerationByID = `--sql 75523c67-f686-4177-b1ef-293f5e0847c4
update generations
set status = 'running', progress = 'claimed', updated_at = now()
where id = $1::uuid
  and status = 'queued'
  and cancel_requested = false
returning ` + generationColumns + `;
`

const QUpdateGenerationProgress = `--sql 6251eb2c-045c-42f6-8b15-86014ee1bbba
update generations
set progress = $2::text, attempts = $3::int, updated_at = now()
where id = $1::uuid;
`

const QSetGenerationDebit = `--sql 076cc7ac-72b3-46cb-837a-747abc46d52e
update generations
set debit_transaction_id = $2::uuid, updated_at = now()
where id = $1::uuid;
`

const QCompleteGeneration = `--sql e5ecf6c9-3444-4490-a54a-77aed28d42a6
update generations
set status = 'completed',
    final_image_key = $2::text,
    attempts = $3::int,
    feedback = $4::jsonb,
    progress = 'accepted',
    failure_reason = null,
    updated_at = now()
where id = $1::uuid;
`

const QFailGeneration = `--sql 4521e702-9987-4340-b328-a9e8ab3caf8f
update generations
set status = $2::text,
    failure_reason = $3::text,
    attempts = $4::int,
    feedback = $5::jsonb,
    progress = $2::text,
    updated_at = now()
where id = $1::uuid;
`

const QRequeueGeneration = `--sql 89cff676-7ec2-4116-9d01-6d78abeafd76
update generations
set status = 'queued', progress = 'requeued', updated_at = now()
where id = $1::uuid
  and status = 'running';
`

// Queued generations are cancelled outright; running ones are flagged and
// stop at the next state boundary.
const QRequestGenerationCancel = `--sql 289426a1-9413-435f-bb04-522dc7897b0c
update generations
set cancel_requested = true,
    status = case when status = 'queued' then 'cancelled' else status end,
    updated_at = now()
where id = $1::uuid
  and status in ('queued', 'running')
returning status;
`

const QSelectGenerationCancel = `--sql 514eca31-b1f7-4d8f-8863-c495c40746c3
select cancel_requested
from generations
where id = $1::uuid;
`

const QSelectPendingRefunds = `--sql b5b1296a-4f2e-4d3b-9608-169facbc905d
select ` + generationColumns + `
from generations g
where g.status in ('failed', 'cancelled')
  and g.debit_transaction_id is not null
  and not exists (
      select 1
      from credit_transactions r
      where r.type = 'refund'
        and r.related_transaction_id = g.debit_transaction_id
  )
order by g.updated_at asc
limit $1::int;
`

// Inserting an existing id is a no-op so redelivered jobs stay idempotent.
const QInsertGeneration = `--sql 3e694c89-0086-474e-9486-07e3cf3d750e
insert into generations (
    id, person_id, user_id, team_id, credit_source, credit_cost,
    selfie_keys, style_settings, package_id, workflow_version
)
values (
    $1::uuid, $2::text, nullif($3::text, ''), nullif($4::text, ''), $5::text, $6::int,
    $7::jsonb, $8::jsonb, nullif($9::text, ''), $10::text
)
on conflict (id) do nothing
returning id::text;
`

const QTouchGeneration = `--sql 756434f9-2f94-4d9b-8715-a118d658da36
update generations
set updated_at = now()
where id = $1::uuid
  and status = 'running';
`

// Running rows nobody touched for $1 seconds belong to a dead worker. They
// go back to the queue, or straight to cancelled when a cancel was pending,
// so the refund sweep sees them.
const QReclaimStaleGenerations = `--sql 93ed1158-4ada-4689-9067-68f555f9422b
update generations
set status = case when cancel_requested then 'cancelled' else 'queued' end,
    progress = case when cancel_requested then 'cancelled' else 'requeued' end,
    failure_reason = case when cancel_requested then 'cancelled while no worker held the generation' else failure_reason end,
    updated_at = now()
where status = 'running'
  and updated_at < now() - make_interval(secs => $1::double precision)
returning id::text, status;
`

// Claims a queued row left untouched for $1 seconds, for sources whose
// own delivery no longer carries it.
const QClaimOrphanedGeneration = `--sql 6a953f7e-3f2b-471c-ad78-ba81d6eaa050
with orphan as (
    select id
    from generations
    where status = 'queued'
      and cancel_requested = false
      and updated_at < now() - make_interval(secs => $1::double precision)
    order by created_at asc
    for update skip locked
    limit 1
)
update generations
set status = 'running', progress = 'claimed', updated_at = now()
where id in (select id from orphan)
returning ` + generationColumns + `;
`
