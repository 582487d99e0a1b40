package sqlinline

const creditTransactionColumns = `id::text, seq, owner_key, coalesce(person_id, ''), coalesce(team_id, ''),
    coalesce(user_id, ''), amount, type, coalesce(related_transaction_id::text, ''),
    coalesce(generation_id::text, ''), coalesce(external_ref, ''), metadata, created_at`

const QEnsureCreditBalance = `--sql e34a035d-f449-42e5-8c6b-10f0aee11abf
insert into credit_balances (owner_key, balance)
values ($1::text, 0)
on conflict (owner_key) do nothing;
`

// Row lock that serializes balance writers for one owner until commit.
const QLockCreditBalance = `--sql 0fe4ff32-2b91-4a94-9fd5-12b2d64eeb7a
select balance
from credit_balances
where owner_key = $1::text
for update;
`

const QSelectCreditBalance = `--sql 809dc383-4d9b-4de4-8e82-0d477453e823
select balance
from credit_balances
where owner_key = $1::text;
`

const QUpdateCreditBalance = `--sql ca72b5ea-2d07-4bd6-8265-a42468e18f25
update credit_balances
set balance = $2::int, updated_at = now()
where owner_key = $1::text;
`

const QInsertCreditTransaction = `--sql 47fa0869-eff9-4d30-9bc2-363c7bb2d8d8
insert into credit_transactions (
    id, owner_key, person_id, team_id, user_id, amount, type,
    related_transaction_id, generation_id, external_ref, metadata
)
values (
    $1::uuid, $2::text, nullif($3::text, ''), nullif($4::text, ''), nullif($5::text, ''),
    $6::int, $7::text, nullif($8::text, '')::uuid, nullif($9::text, '')::uuid,
    nullif($10::text, ''), coalesce($11::jsonb, '{}'::jsonb)
)
returning seq, created_at;
`

const QSelectCreditTransaction = `--sql d18afb10-d6c5-46de-9d2c-aa5386e4e159
select ` + creditTransactionColumns + `
from credit_transactions
where id = $1::uuid;
`

const QSelectRefundForTransaction = `--sql f3be743e-2f78-4fa7-80d9-d3a15b410e06
select ` + creditTransactionColumns + `
from credit_transactions
where type = 'refund'
  and related_transaction_id = $1::uuid
limit 1;
`

const QSelectCreditByExternalRef = `--sql c3ff1a05-7718-43d1-9fd7-3d8bf9aaf491
select ` + creditTransactionColumns + `
from credit_transactions
where external_ref = $1::text
limit 1;
`

const QSelectGenerationDebit = `--sql 00dee055-9469-44f1-8204-29a36aeb4c57
select ` + creditTransactionColumns + `
from credit_transactions
where type = 'generation'
  and generation_id = $1::uuid
limit 1;
`

const QSelectOwnerTransactions = `--sql dc1421d3-9b6b-4867-9648-26a3c7ef4b9b
select ` + creditTransactionColumns + `
from credit_transactions
where owner_key = $1::text
order by seq asc;
`
