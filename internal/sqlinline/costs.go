package sqlinline

const QInsertGenerationCost = `--sql 5ddc3ff9-4691-4ca4-934c-93c73f940876
insert into generation_costs (
    generation_id, step, attempt, provider, model, cost_usd,
    input_tokens, output_tokens, images, duration_ms, success, error_code
)
values (
    $1::uuid, $2::text, $3::int, $4::text, $5::text, $6::numeric,
    $7::int, $8::int, $9::int, $10::bigint, $11::boolean, nullif($12::text, '')
);
`

const QSumGenerationCost = `--sql 0dfeb626-9fda-4811-833f-062f6f876b72
select coalesce(sum(cost_usd), 0)::float8, count(*)
from generation_costs
where generation_id = $1::uuid;
`
